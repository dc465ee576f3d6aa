package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/domain/models"
)

func TestCanMakeCallAllowsAndLogs(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	decision, err := env.admission.CanMakeCall(ctx, "acct-1", "owner-1", "reply")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(179), decision.RemainingCalls)

	users, err := env.admission.GetTopUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "acct-1", users[0].AccountID)
	assert.Equal(t, int64(1), users[0].TotalCalls)
}

func TestCanMakeCallDeniesAtThreshold(t *testing.T) {
	env := newTestEnv(t, envOptions{hardLimit: 5, blockThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := env.admission.CanMakeCall(ctx, "acct-1", "owner-1", "reply")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := env.admission.CanMakeCall(ctx, "acct-1", "owner-1", "reply")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.True(t, decision.IsBlocked)
	assert.Equal(t, models.DenialReasonBlocked, decision.Reason)
	assert.Equal(t, (5 * time.Minute).Milliseconds(), decision.DelayMs)
	require.NotNil(t, decision.BlockedUntil)

	// Denials never count toward usage.
	users, err := env.admission.GetTopUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(3), users[0].TotalCalls)
}

func TestCanMakeCallGlobalQuotaDenialRefundsAccount(t *testing.T) {
	env := newTestEnv(t, envOptions{appLimit: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := env.admission.CanMakeCall(ctx, "acct-1", "owner-1", "reply")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	// The third call has account headroom but the app window is spent.
	decision, err := env.admission.CanMakeCall(ctx, "acct-2", "owner-2", "reply")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.DenialReasonAppQuota, decision.Reason)
	assert.False(t, decision.IsBlocked)
	// 14:30 UTC: the next hour window opens in 30 minutes.
	assert.Equal(t, (30 * time.Minute).Milliseconds(), decision.DelayMs)

	// The account's own increment was rolled back.
	status, err := env.admission.GetAccountStatus(ctx, "acct-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Calls)
}

func TestCanMakeCallFailsClosedWhenStoreIsDown(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.redisDown()

	_, err := env.admission.CanMakeCall(context.Background(), "acct-1", "owner-1", "reply")
	require.Error(t, err)
}

func TestGetQuotaWindowWhenDisabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	window, err := env.admission.GetQuotaWindow(context.Background())
	require.NoError(t, err)
	assert.Nil(t, window)
}

func TestGetQuotaWindowAggregate(t *testing.T) {
	env := newTestEnv(t, envOptions{appLimit: 10})
	ctx := context.Background()

	for _, acct := range []string{"a", "b"} {
		decision, err := env.admission.CanMakeCall(ctx, acct, "owner-1", "reply")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	window, err := env.admission.GetQuotaWindow(ctx)
	require.NoError(t, err)
	require.NotNil(t, window)
	assert.Equal(t, int64(2), window.GlobalCalls)
	assert.Equal(t, int64(2), window.AccountsProcessed)
	assert.Equal(t, models.WindowStatusActive, window.Status)
}

func TestResetAccountClearsState(t *testing.T) {
	env := newTestEnv(t, envOptions{hardLimit: 2, blockThreshold: 2})
	ctx := context.Background()

	decision, err := env.admission.CanMakeCall(ctx, "acct-1", "owner-1", "reply")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	require.NoError(t, env.admission.ResetAccount(ctx, "acct-1"))

	status, err := env.admission.GetAccountStatus(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Calls)
}
