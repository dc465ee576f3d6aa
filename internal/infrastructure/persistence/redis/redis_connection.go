// Package redis manages the Redis connection shared by the rate limiter and
// the global window aggregator.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// Connection wraps the universal client so callers do not care whether they
// talk to a single node or a cluster.
type Connection struct {
	Client redis.UniversalClient
	logger logger.Logger
}

// NewConnection dials Redis and verifies it responds before returning.
func NewConnection(cfg *config.RedisConfig, log logger.Logger) (*Connection, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.ErrStoreUnavailable("failed to connect to redis").WithCause(err)
	}

	log.Info(context.Background(), "redis connection established",
		logger.Any("addresses", cfg.Addresses))

	return &Connection{Client: client, logger: log}, nil
}

// Ping reports whether Redis is reachable. Used by the readiness probe.
func (c *Connection) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Close releases the client's resources.
func (c *Connection) Close() error {
	return c.Client.Close()
}
