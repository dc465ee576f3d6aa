package config

import (
	"fmt"
	"time"

	"github.com/replyflow/replyflow/pkg/constants"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	AppQuota  AppQuotaConfig  `mapstructure:"app_quota"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // seconds
	Environment  string `mapstructure:"environment"`
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	// Driver selects the gorm dialector: "postgres" or "sqlite".
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // minutes
}

type RedisConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
}

// RateLimitConfig carries the per-account admission policy. The observed
// provider limits are product policy, so everything here is tunable.
type RateLimitConfig struct {
	HardLimit      int64  `mapstructure:"hard_limit"`
	BlockThreshold int64  `mapstructure:"block_threshold"`
	BlockDuration  int    `mapstructure:"block_duration"`  // seconds
	WindowDuration int    `mapstructure:"window_duration"` // seconds
	KeyPrefix      string `mapstructure:"key_prefix"`
}

func (c *RateLimitConfig) Block() time.Duration  { return time.Duration(c.BlockDuration) * time.Second }
func (c *RateLimitConfig) Window() time.Duration { return time.Duration(c.WindowDuration) * time.Second }

// AppQuotaConfig carries the application-wide hourly ceiling shared by all
// accounts.
type AppQuotaConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppLimit  int64  `mapstructure:"app_limit"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type QueueConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	RetentionDays int `mapstructure:"retention_days"`
	// MaxRetries caps how often a denied item is requeued before it is
	// failed with "retry limit exceeded". Zero means unlimited.
	MaxRetries int `mapstructure:"max_retries"`
}

type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	ProcessInterval int  `mapstructure:"process_interval"` // seconds
	CleanupInterval int  `mapstructure:"cleanup_interval"` // seconds
}

func (c *SchedulerConfig) Process() time.Duration {
	return time.Duration(c.ProcessInterval) * time.Second
}

func (c *SchedulerConfig) Cleanup() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Second
}

// DispatchConfig configures the outbound executor that performs the actual
// third-party calls.
type DispatchConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Timeout    int    `mapstructure:"timeout"` // seconds
	MaxRetries int    `mapstructure:"max_retries"`
}

type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	AuditTopic   string   `mapstructure:"audit_topic"`
	BatchSize    int      `mapstructure:"batch_size"`
	BatchTimeout int      `mapstructure:"batch_timeout"` // milliseconds
	RequiredAcks int      `mapstructure:"required_acks"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks the invariants the rate limiter depends on.
func (c *Config) Validate() error {
	if c.RateLimit.HardLimit <= 0 {
		return fmt.Errorf("rate_limit.hard_limit must be positive, got %d", c.RateLimit.HardLimit)
	}
	if c.RateLimit.BlockThreshold > c.RateLimit.HardLimit {
		return fmt.Errorf("rate_limit.block_threshold %d exceeds hard_limit %d",
			c.RateLimit.BlockThreshold, c.RateLimit.HardLimit)
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate_limit.window_duration must be positive")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive")
	}
	if c.AppQuota.Enabled && c.AppQuota.AppLimit <= 0 {
		return fmt.Errorf("app_quota.app_limit must be positive when app_quota is enabled")
	}
	return nil
}

// applyDefaults fills in the stock policy values; every one of them can be
// overridden by file or environment.
func applyDefaults(c *Config) {
	if c.RateLimit.HardLimit == 0 {
		c.RateLimit.HardLimit = constants.DefaultHardLimit
	}
	if c.RateLimit.BlockThreshold == 0 {
		c.RateLimit.BlockThreshold = constants.DefaultBlockThreshold
	}
	if c.RateLimit.BlockDuration == 0 {
		c.RateLimit.BlockDuration = int(constants.DefaultBlockDuration.Seconds())
	}
	if c.RateLimit.WindowDuration == 0 {
		c.RateLimit.WindowDuration = int(constants.DefaultWindowDuration.Seconds())
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = constants.RateLimitKeyPrefix
	}
	if c.AppQuota.KeyPrefix == "" {
		c.AppQuota.KeyPrefix = constants.AppQuotaKeyPrefix
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = constants.DefaultBatchSize
	}
	if c.Queue.RetentionDays == 0 {
		c.Queue.RetentionDays = constants.DefaultRetentionDays
	}
}
