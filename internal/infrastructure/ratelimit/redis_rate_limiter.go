// Package ratelimit implements distributed admission control on Redis.
// Every decision is a single Lua script execution, so the check-and-increment
// is atomic across any number of concurrent callers and processes.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// LimiterConfig holds the admission policy for the per-account limiter.
type LimiterConfig struct {
	// HardLimit is the external per-window ceiling. Calls are denied at or
	// above it, without placing a block; the window resets naturally.
	HardLimit int64

	// BlockThreshold is the soft-block trigger. The call that reaches it is
	// still allowed, but the account is blocked for BlockDuration afterwards
	// to leave headroom below the hard ceiling.
	BlockThreshold int64

	// BlockDuration is the length of a soft block.
	BlockDuration time.Duration

	// Window is the rolling per-account window, anchored at the account's
	// first call rather than the top of the clock hour.
	Window time.Duration

	// KeyPrefix prefixes record keys in Redis.
	KeyPrefix string
}

// RedisRateLimiter is the Redis-backed RateLimitService implementation.
type RedisRateLimiter struct {
	client redis.UniversalClient
	cfg    LimiterConfig
	clock  clock.Clock
	logger logger.Logger
	script *redis.Script
	refund *redis.Script
}

// Verdicts returned by the admission script.
const (
	verdictAllowed      = 0
	verdictBlocked      = 1
	verdictNewlyBlocked = 2
	verdictHardLimited  = 3
)

// admissionScript runs the full admission algorithm atomically. Window
// expiry resolves before any limit check, so a stale record is reset exactly
// once no matter how many callers observe it. A nonzero blocked_until marks
// that the account has already served (or is serving) its block for this
// window; an expired block is not re-entered until the window resets.
const admissionScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local hard_limit = tonumber(ARGV[4])
local block_ms = tonumber(ARGV[5])

local rec = redis.call('HMGET', key, 'calls', 'window_start', 'blocked_until')
local calls = tonumber(rec[1]) or 0
local window_start = tonumber(rec[2]) or 0
local blocked_until = tonumber(rec[3]) or 0

if window_start == 0 or now - window_start >= window then
  calls = 0
  window_start = now
  blocked_until = 0
end

local verdict = 0
local retry = 0

if blocked_until > now then
  verdict = 1
  retry = blocked_until - now
elseif calls >= hard_limit then
  verdict = 3
  retry = window_start + window - now
elseif calls >= threshold and blocked_until == 0 then
  blocked_until = now + block_ms
  verdict = 2
  retry = block_ms
else
  calls = calls + 1
  if calls >= threshold and blocked_until == 0 then
    blocked_until = now + block_ms
  end
end

redis.call('HSET', key, 'calls', calls, 'window_start', window_start, 'blocked_until', blocked_until)
redis.call('PEXPIRE', key, window * 2)

return {verdict, calls, window_start, blocked_until, retry}
`

// refundScript returns one admitted call when a later gate rejected it. The
// decrement only applies while the record is still in the same window, so a
// refund can never leak into a fresh window.
const refundScript = `
local key = KEYS[1]
local expected_start = tonumber(ARGV[1])

local rec = redis.call('HMGET', key, 'calls', 'window_start')
local calls = tonumber(rec[1]) or 0
local window_start = tonumber(rec[2]) or 0

if window_start ~= expected_start or calls <= 0 then
  return 0
end

redis.call('HSET', key, 'calls', calls - 1)
return 1
`

// NewRedisRateLimiter creates the Redis-backed per-account limiter.
func NewRedisRateLimiter(client redis.UniversalClient, cfg LimiterConfig, clk clock.Clock, log logger.Logger) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.ErrInvalidRequest("redis client is required")
	}
	if clk == nil {
		clk = clock.System()
	}

	rl := &RedisRateLimiter{
		client: client,
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("redis_rate_limiter"),
		script: redis.NewScript(admissionScript),
		refund: redis.NewScript(refundScript),
	}

	log.Info(context.Background(), "rate limiter initialized",
		logger.Int64("hard_limit", cfg.HardLimit),
		logger.Int64("block_threshold", cfg.BlockThreshold),
		logger.Duration("block_duration", cfg.BlockDuration),
		logger.Duration("window", cfg.Window),
	)

	return rl, nil
}

var _ service.RateLimitService = (*RedisRateLimiter)(nil)

// Check runs one atomic admission decision for the account.
func (rl *RedisRateLimiter) Check(ctx context.Context, accountID string) (*service.CheckResult, error) {
	now := rl.clock.Now()

	raw, err := rl.script.Run(ctx, rl.client, []string{rl.key(accountID)},
		now.UnixMilli(),
		rl.cfg.Window.Milliseconds(),
		rl.cfg.BlockThreshold,
		rl.cfg.HardLimit,
		rl.cfg.BlockDuration.Milliseconds(),
	).Result()
	if err != nil {
		return nil, errors.ErrStoreUnavailable("rate limit check failed").WithCause(err)
	}

	verdict, calls, windowStart, blockedUntil, retry, err := parseAdmissionReply(raw)
	if err != nil {
		return nil, errors.ErrInternal("unexpected admission script reply").WithCause(err)
	}

	res := &service.CheckResult{
		Allowed:     verdict == verdictAllowed,
		Calls:       calls,
		Remaining:   rl.cfg.HardLimit - calls,
		WindowStart: time.UnixMilli(windowStart),
		RetryAfter:  time.Duration(retry) * time.Millisecond,
	}
	if blockedUntil > 0 {
		res.BlockedUntil = time.UnixMilli(blockedUntil)
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	switch verdict {
	case verdictBlocked, verdictNewlyBlocked:
		res.Reason = models.DenialReasonBlocked
	case verdictHardLimited:
		res.Reason = models.DenialReasonHardLimit
	}

	return res, nil
}

// Refund returns one admitted call after a global-quota rejection.
func (rl *RedisRateLimiter) Refund(ctx context.Context, accountID string, windowStart time.Time) error {
	err := rl.refund.Run(ctx, rl.client, []string{rl.key(accountID)}, windowStart.UnixMilli()).Err()
	if err != nil && err != redis.Nil {
		return errors.ErrStoreUnavailable("rate limit refund failed").WithCause(err)
	}
	return nil
}

// Status projects the account's record without consuming headroom. An
// expired window is reported as reset even though the stored record is only
// rewritten on the next Check.
func (rl *RedisRateLimiter) Status(ctx context.Context, accountID string) (*models.AccountStatus, error) {
	now := rl.clock.Now()

	vals, err := rl.client.HMGet(ctx, rl.key(accountID), "calls", "window_start", "blocked_until").Result()
	if err != nil {
		return nil, errors.ErrStoreUnavailable("rate limit status read failed").WithCause(err)
	}

	calls := parseField(vals[0])
	windowStart := parseField(vals[1])
	blockedUntil := parseField(vals[2])

	windowMs := rl.cfg.Window.Milliseconds()
	if windowStart == 0 || now.UnixMilli()-windowStart >= windowMs {
		calls = 0
		windowStart = now.UnixMilli()
		blockedUntil = 0
	}

	status := &models.AccountStatus{
		AccountID:      accountID,
		Calls:          calls,
		RemainingCalls: rl.cfg.HardLimit - calls,
		WindowStart:    time.UnixMilli(windowStart),
		ResetInMs:      windowStart + windowMs - now.UnixMilli(),
	}
	if status.RemainingCalls < 0 {
		status.RemainingCalls = 0
	}
	if blockedUntil > now.UnixMilli() {
		t := time.UnixMilli(blockedUntil)
		status.IsBlocked = true
		status.BlockedUntil = &t
	}

	return status, nil
}

// Reset deletes the account's record. Administrative override only.
func (rl *RedisRateLimiter) Reset(ctx context.Context, accountID string) error {
	if err := rl.client.Del(ctx, rl.key(accountID)).Err(); err != nil && err != redis.Nil {
		return errors.ErrStoreUnavailable("rate limit reset failed").WithCause(err)
	}
	rl.logger.Info(ctx, "rate limit record reset", logger.String("account_id", accountID))
	return nil
}

func (rl *RedisRateLimiter) key(accountID string) string {
	return fmt.Sprintf("%s:%s", rl.cfg.KeyPrefix, accountID)
}

func parseAdmissionReply(raw interface{}) (verdict, calls, windowStart, blockedUntil, retry int64, err error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 5 {
		return 0, 0, 0, 0, 0, fmt.Errorf("malformed reply %v", raw)
	}
	nums := make([]int64, 5)
	for i := 0; i < 5; i++ {
		n, ok := reply[i].(int64)
		if !ok {
			return 0, 0, 0, 0, 0, fmt.Errorf("non-integer element %v", reply[i])
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nums[3], nums[4], nil
}

func parseField(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
