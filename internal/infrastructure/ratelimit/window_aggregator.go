package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// AggregatorConfig holds the application-wide quota policy.
type AggregatorConfig struct {
	// AppLimit is the provider's app-level ceiling per hour window.
	AppLimit int64

	// KeyPrefix prefixes window keys in Redis.
	KeyPrefix string
}

// WindowAggregator tracks the shared hourly call budget across all accounts.
// Unlike the per-account limiter, the global window is a fixed clock-hour
// bucket so that every process agrees on its boundaries.
type WindowAggregator struct {
	client  redis.UniversalClient
	cfg     AggregatorConfig
	clock   clock.Clock
	logger  logger.Logger
	reserve *redis.Script
}

// reserveScript increments the window counter only while it is below the app
// limit. The bound and the increment happen in one script, so concurrent
// reservations can never push the counter past the limit.
const reserveScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local calls = tonumber(redis.call('HGET', key, 'calls') or '0')
if calls >= limit then
  return {0, calls}
end

calls = redis.call('HINCRBY', key, 'calls', 1)
redis.call('PEXPIRE', key, ttl)
return {1, calls}
`

// NewWindowAggregator creates the Redis-backed global quota tier.
func NewWindowAggregator(client redis.UniversalClient, cfg AggregatorConfig, clk clock.Clock, log logger.Logger) (*WindowAggregator, error) {
	if client == nil {
		return nil, errors.ErrInvalidRequest("redis client is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &WindowAggregator{
		client:  client,
		cfg:     cfg,
		clock:   clk,
		logger:  log.WithComponent("window_aggregator"),
		reserve: redis.NewScript(reserveScript),
	}, nil
}

var _ service.GlobalQuotaService = (*WindowAggregator)(nil)

// Reserve takes one slot from the current hour window if any remain.
func (a *WindowAggregator) Reserve(ctx context.Context, accountID string) (bool, int64, error) {
	now := a.clock.Now()
	key := a.windowKey(now)

	raw, err := a.reserve.Run(ctx, a.client, []string{key},
		a.cfg.AppLimit,
		(2 * time.Hour).Milliseconds(),
	).Result()
	if err != nil {
		return false, 0, errors.ErrStoreUnavailable("global quota reservation failed").WithCause(err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 2 {
		return false, 0, errors.ErrInternal(fmt.Sprintf("unexpected reserve script reply %v", raw))
	}
	granted, _ := reply[0].(int64)
	calls, _ := reply[1].(int64)

	if granted == 1 {
		// Track distinct accounts for the window snapshot. Best effort.
		pipe := a.client.Pipeline()
		pipe.SAdd(ctx, key+":accounts", accountID)
		pipe.Expire(ctx, key+":accounts", 2*time.Hour)
		if _, err := pipe.Exec(ctx); err != nil {
			a.logger.Warn(ctx, "failed to track window account",
				logger.String("account_id", accountID), logger.Err(err))
		}
	}

	return granted == 1, calls, nil
}

// Release returns one slot to the current hour window.
func (a *WindowAggregator) Release(ctx context.Context) error {
	key := a.windowKey(a.clock.Now())
	if err := a.client.HIncrBy(ctx, key, "calls", -1).Err(); err != nil {
		return errors.ErrStoreUnavailable("global quota release failed").WithCause(err)
	}
	return nil
}

// Snapshot reads the window aggregate for the hour containing the instant.
// Past windows are reported completed and are read-only by construction.
func (a *WindowAggregator) Snapshot(ctx context.Context, at time.Time) (*models.RateLimitWindow, error) {
	key := a.windowKey(at)

	callsStr, err := a.client.HGet(ctx, key, "calls").Result()
	if err != nil && err != redis.Nil {
		return nil, errors.ErrStoreUnavailable("global quota snapshot failed").WithCause(err)
	}
	accounts, err := a.client.SCard(ctx, key+":accounts").Result()
	if err != nil && err != redis.Nil {
		return nil, errors.ErrStoreUnavailable("global quota snapshot failed").WithCause(err)
	}

	start := at.UTC().Truncate(time.Hour)
	w := &models.RateLimitWindow{
		WindowStart:       start,
		WindowEnd:         start.Add(time.Hour),
		GlobalCalls:       parseField(callsStr),
		AppLimit:          a.cfg.AppLimit,
		AccountsProcessed: accounts,
		Status:            models.WindowStatusActive,
	}
	if !a.clock.Now().UTC().Before(w.WindowEnd) {
		w.Status = models.WindowStatusCompleted
	}
	return w, nil
}

// windowKey buckets by epoch hour so all processes share one counter per
// hour regardless of locale.
func (a *WindowAggregator) windowKey(t time.Time) string {
	return fmt.Sprintf("%s:%d", a.cfg.KeyPrefix, t.UTC().Unix()/3600)
}
