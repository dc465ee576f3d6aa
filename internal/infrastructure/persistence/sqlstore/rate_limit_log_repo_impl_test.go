package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/pkg/logger"
)

func TestTopUsersCountsOnlySuccessfulCalls(t *testing.T) {
	conn, err := NewTestDBConnection(logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	repo := NewRateLimitLogRepository(conn, logger.NewNoopLogger())
	ctx := context.Background()

	append := func(accountID string, status models.LogStatus, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, repo.Append(ctx, &models.RateLimitLogEntry{
				AccountID: accountID,
				Action:    "reply",
				Timestamp: time.Now(),
				Status:    status,
			}))
		}
	}

	append("heavy", models.LogStatusSuccess, 5)
	append("heavy", models.LogStatusRateLimited, 3)
	append("medium", models.LogStatusSuccess, 2)
	append("queued-only", models.LogStatusQueued, 4)

	users, err := repo.TopUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "heavy", users[0].AccountID)
	assert.Equal(t, int64(5), users[0].TotalCalls)
	assert.Equal(t, "medium", users[1].AccountID)
	assert.Equal(t, int64(2), users[1].TotalCalls)

	limited, err := repo.TopUsers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "heavy", limited[0].AccountID)
}
