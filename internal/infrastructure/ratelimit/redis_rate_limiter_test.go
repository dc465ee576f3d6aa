package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/logger"
)

func newTestLimiter(t *testing.T) (*RedisRateLimiter, *clock.Manual) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewManual(time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC))
	rl, err := NewRedisRateLimiter(client, LimiterConfig{
		HardLimit:      180,
		BlockThreshold: 170,
		BlockDuration:  5 * time.Minute,
		Window:         time.Hour,
		KeyPrefix:      "ratelimit:acct",
	}, clk, logger.NewNoopLogger())
	require.NoError(t, err)
	return rl, clk
}

func drainCalls(t *testing.T, rl *RedisRateLimiter, accountID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		res, err := rl.Check(ctx, accountID)
		require.NoError(t, err)
		require.True(t, res.Allowed, "call %d should be allowed", i+1)
	}
}

func TestCheckAllowsUnderThreshold(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Calls)
	assert.Equal(t, int64(179), res.Remaining)
	assert.True(t, res.BlockedUntil.IsZero())

	res, err = rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(2), res.Calls)
}

func TestAccountsAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "busy", 50)

	res, err := rl.Check(ctx, "quiet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Calls)
}

func TestThresholdCrossingAllowsCallAndPlacesBlock(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 169)

	// Call 170 reaches the threshold: still allowed, block placed behind it.
	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(170), res.Calls)
	assert.False(t, res.BlockedUntil.IsZero())
	assert.Equal(t, clk.Now().Add(5*time.Minute).UnixMilli(), res.BlockedUntil.UnixMilli())

	// The next call lands inside the block.
	res, err = rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, models.DenialReasonBlocked, res.Reason)
	assert.Equal(t, 5*time.Minute, res.RetryAfter)
}

func TestBlockedAccountReportsRemainingBlockTime(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 170)
	clk.Advance(time.Minute)

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, models.DenialReasonBlocked, res.Reason)
	assert.Equal(t, 4*time.Minute, res.RetryAfter)
}

func TestExpiredBlockIsNotReenteredWithinWindow(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 170)
	clk.Advance(6 * time.Minute)

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(171), res.Calls)
}

func TestHardLimitDeniesUntilWindowReset(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 170)
	clk.Advance(6 * time.Minute)
	drainCalls(t, rl, "acct-1", 10)

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, models.DenialReasonHardLimit, res.Reason)
	// 6 minutes into the window, 54 remain.
	assert.Equal(t, 54*time.Minute, res.RetryAfter)
}

func TestWindowResetsAfterOneHour(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 170)
	clk.Advance(time.Hour)

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Calls)
	assert.True(t, res.BlockedUntil.IsZero())
	assert.Equal(t, clk.Now().UnixMilli(), res.WindowStart.UnixMilli())
}

func TestWindowIsAnchoredAtFirstCall(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	first, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, first.WindowStart.UnixMilli(), res.WindowStart.UnixMilli())
	assert.Equal(t, int64(2), res.Calls)
}

func TestRefundReturnsOneCall(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, rl.Refund(ctx, "acct-1", res.WindowStart))

	status, err := rl.Status(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Calls)
}

func TestRefundSkipsChangedWindow(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	oldWindow := res.WindowStart

	clk.Advance(time.Hour)
	res2, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), res2.Calls)

	// Refund against the expired window must not touch the fresh one.
	require.NoError(t, rl.Refund(ctx, "acct-1", oldWindow))

	status, err := rl.Status(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Calls)
}

func TestStatusDoesNotConsumeHeadroom(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 3)

	for i := 0; i < 5; i++ {
		status, err := rl.Status(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), status.Calls)
		assert.Equal(t, int64(177), status.RemainingCalls)
	}
}

func TestStatusReportsExpiredWindowAsReset(t *testing.T) {
	rl, clk := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 170)
	clk.Advance(2 * time.Hour)

	status, err := rl.Status(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Calls)
	assert.Equal(t, int64(180), status.RemainingCalls)
	assert.False(t, status.IsBlocked)
}

func TestStatusForUnknownAccount(t *testing.T) {
	rl, _ := newTestLimiter(t)

	status, err := rl.Status(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Calls)
	assert.Equal(t, int64(180), status.RemainingCalls)
	assert.False(t, status.IsBlocked)
}

func TestResetClearsRecord(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	drainCalls(t, rl, "acct-1", 170)
	require.NoError(t, rl.Reset(ctx, "acct-1"))

	res, err := rl.Check(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Calls)
}

func TestCheckFailsClosedWhenStoreIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl, err := NewRedisRateLimiter(client, LimiterConfig{
		HardLimit:      180,
		BlockThreshold: 170,
		BlockDuration:  5 * time.Minute,
		Window:         time.Hour,
		KeyPrefix:      "ratelimit:acct",
	}, clock.NewManual(time.Now()), logger.NewNoopLogger())
	require.NoError(t, err)

	mr.Close()

	_, err = rl.Check(context.Background(), "acct-1")
	require.Error(t, err)
}
