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

func newTestAggregator(t *testing.T, appLimit int64) (*WindowAggregator, *clock.Manual) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewManual(time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC))
	agg, err := NewWindowAggregator(client, AggregatorConfig{
		AppLimit:  appLimit,
		KeyPrefix: "quota:app",
	}, clk, logger.NewNoopLogger())
	require.NoError(t, err)
	return agg, clk
}

func TestReserveGrantsUntilAppLimit(t *testing.T) {
	agg, _ := newTestAggregator(t, 3)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		granted, calls, err := agg.Reserve(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, i, calls)
	}

	granted, calls, err := agg.Reserve(ctx, "acct-2")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, int64(3), calls)
}

func TestReserveOpensFreshWindowNextHour(t *testing.T) {
	agg, clk := newTestAggregator(t, 1)
	ctx := context.Background()

	granted, _, err := agg.Reserve(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, granted)

	granted, _, err = agg.Reserve(ctx, "acct-1")
	require.NoError(t, err)
	require.False(t, granted)

	clk.Advance(time.Hour)
	granted, calls, err := agg.Reserve(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(1), calls)
}

func TestReleaseReturnsOneSlot(t *testing.T) {
	agg, _ := newTestAggregator(t, 1)
	ctx := context.Background()

	granted, _, err := agg.Reserve(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, granted)

	require.NoError(t, agg.Release(ctx))

	granted, _, err = agg.Reserve(ctx, "acct-2")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestSnapshotAggregatesWindow(t *testing.T) {
	agg, clk := newTestAggregator(t, 100)
	ctx := context.Background()

	for _, acct := range []string{"a", "b", "b", "c"} {
		granted, _, err := agg.Reserve(ctx, acct)
		require.NoError(t, err)
		require.True(t, granted)
	}

	w, err := agg.Snapshot(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(4), w.GlobalCalls)
	assert.Equal(t, int64(100), w.AppLimit)
	assert.Equal(t, int64(3), w.AccountsProcessed)
	assert.Equal(t, models.WindowStatusActive, w.Status)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), w.WindowStart)
	assert.Equal(t, time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC), w.WindowEnd)
}

func TestSnapshotMarksPastWindowCompleted(t *testing.T) {
	agg, clk := newTestAggregator(t, 100)
	ctx := context.Background()

	granted, _, err := agg.Reserve(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, granted)

	past := clk.Now()
	clk.Advance(2 * time.Hour)

	w, err := agg.Snapshot(ctx, past)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.GlobalCalls)
	assert.Equal(t, models.WindowStatusCompleted, w.Status)
}

func TestSnapshotEmptyWindow(t *testing.T) {
	agg, clk := newTestAggregator(t, 100)

	w, err := agg.Snapshot(context.Background(), clk.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.GlobalCalls)
	assert.Equal(t, int64(0), w.AccountsProcessed)
}
