package sqlstore

import (
	"context"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/repository"
	"github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// RateLimitLogRepositoryImpl is the gorm-backed append-only audit store for
// admission decisions.
type RateLimitLogRepositoryImpl struct {
	conn   *DBConnection
	logger logger.Logger
}

// NewRateLimitLogRepository creates the SQL audit log store.
func NewRateLimitLogRepository(conn *DBConnection, log logger.Logger) repository.RateLimitLogRepository {
	return &RateLimitLogRepositoryImpl{
		conn:   conn,
		logger: log.WithComponent("rate_limit_log_repository"),
	}
}

// Append records one admission decision.
func (r *RateLimitLogRepositoryImpl) Append(ctx context.Context, entry *models.RateLimitLogEntry) error {
	if err := r.conn.DB().WithContext(ctx).Create(entry).Error; err != nil {
		return errors.ErrStoreUnavailable("failed to append rate limit log entry").WithCause(err)
	}
	return nil
}

// TopUsers aggregates total successful calls per account, busiest first.
func (r *RateLimitLogRepositoryImpl) TopUsers(ctx context.Context, limit int) ([]*models.AccountUsage, error) {
	var usages []*models.AccountUsage
	err := r.conn.DB().WithContext(ctx).
		Model(&models.RateLimitLogEntry{}).
		Select("account_id, count(*) as total_calls").
		Where("status = ?", models.LogStatusSuccess).
		Group("account_id").
		Order("total_calls desc").
		Limit(limit).
		Scan(&usages).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("failed to aggregate top users").WithCause(err)
	}
	return usages, nil
}
