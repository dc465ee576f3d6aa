package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/replyflow/replyflow/pkg/errors"
)

// LoadConfig loads the configuration from file and environment variables.
// Environment variables use the REPLYFLOW_ prefix with dots replaced by
// underscores (e.g. REPLYFLOW_RATE_LIMIT_HARD_LIMIT).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("server.environment", "development")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("scheduler.process_interval", 60)
	v.SetDefault("scheduler.cleanup_interval", 1800)
	v.SetDefault("dispatch.timeout", 10)
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("kafka.audit_topic", "replyflow.audit")
	v.SetDefault("kafka.batch_timeout", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("tracing.service_name", "replyflow")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/replyflow/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ErrInvalidRequest("failed to read config file").WithCause(err)
		}
	}

	v.SetEnvPrefix("REPLYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidRequest("failed to unmarshal config").WithCause(err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.ErrInvalidRequest(err.Error())
	}

	return &cfg, nil
}
