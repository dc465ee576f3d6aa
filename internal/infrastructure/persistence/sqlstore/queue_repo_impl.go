package sqlstore

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/repository"
	"github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// QueueRepositoryImpl is the gorm-backed QueueRepository. Status transitions
// are conditional UPDATEs so overlapping processor runs and stale callers can
// never double-execute an item or overwrite a terminal state.
type QueueRepositoryImpl struct {
	conn   *DBConnection
	logger logger.Logger
}

// NewQueueRepository creates the SQL queue store.
func NewQueueRepository(conn *DBConnection, log logger.Logger) repository.QueueRepository {
	return &QueueRepositoryImpl{
		conn:   conn,
		logger: log.WithComponent("queue_repository"),
	}
}

// Insert persists a new QUEUED item. Position assignment happens inside the
// insert transaction: count(QUEUED in window) + 1.
func (r *QueueRepositoryImpl) Insert(ctx context.Context, item *models.QueueItem) error {
	err := r.conn.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var queued int64
		if err := tx.Model(&models.QueueItem{}).
			Where("status = ? AND window_label = ?", models.QueueStatusQueued, item.WindowLabel).
			Count(&queued).Error; err != nil {
			return err
		}
		item.Position = int(queued) + 1
		item.Status = models.QueueStatusQueued
		return tx.Create(item).Error
	})
	if err != nil {
		return errors.ErrStoreUnavailable("failed to enqueue item").WithCause(err)
	}
	return nil
}

// FindByID loads one item.
func (r *QueueRepositoryImpl) FindByID(ctx context.Context, id string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := r.conn.DB().WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrNotFound("queue item not found").WithMetadata("queue_id", id)
		}
		return nil, errors.ErrStoreUnavailable("failed to load queue item").WithCause(err)
	}
	return &item, nil
}

// NextBatch returns the drain order for the current window: priority first,
// then arrival position. Items from other windows are never returned.
func (r *QueueRepositoryImpl) NextBatch(ctx context.Context, windowLabel string, limit int) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	err := r.conn.DB().WithContext(ctx).
		Where("status = ? AND window_label = ?", models.QueueStatusQueued, windowLabel).
		Order("priority asc").
		Order("position asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("failed to fetch batch").WithCause(err)
	}
	return items, nil
}

// Claim performs the conditional QUEUED -> PROCESSING transition. A zero
// rows-affected result means another run already claimed or finalized the
// item; that is not an error, just a lost race.
func (r *QueueRepositoryImpl) Claim(ctx context.Context, id string) (bool, error) {
	res := r.conn.DB().WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.QueueStatusQueued).
		Update("status", models.QueueStatusProcessing)
	if res.Error != nil {
		return false, errors.ErrStoreUnavailable("failed to claim queue item").WithCause(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Finalize transitions a non-terminal item to COMPLETED or FAILED. Terminal
// items are left untouched and the attempt is rejected.
func (r *QueueRepositoryImpl) Finalize(ctx context.Context, id string, status models.QueueStatus, result json.RawMessage, errMsg string, processedAt time.Time) error {
	if !status.Terminal() {
		return errors.ErrInvalidRequest("finalize requires a terminal status").
			WithMetadata("status", string(status))
	}

	updates := map[string]interface{}{
		"status":       status,
		"processed_at": processedAt,
	}
	if status == models.QueueStatusCompleted {
		updates["result"] = result
	} else {
		updates["error"] = errMsg
	}

	res := r.conn.DB().WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("id = ? AND status NOT IN ?", id, []models.QueueStatus{
			models.QueueStatusCompleted, models.QueueStatusFailed,
		}).
		Updates(updates)
	if res.Error != nil {
		return errors.ErrStoreUnavailable("failed to finalize queue item").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrInvalidTransition("queue item already terminal").
			WithMetadata("queue_id", id)
	}
	return nil
}

// IncrementRetry bumps retryCount on an item still waiting in the queue.
func (r *QueueRepositoryImpl) IncrementRetry(ctx context.Context, id string) error {
	res := r.conn.DB().WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, models.QueueStatusQueued).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if res.Error != nil {
		return errors.ErrStoreUnavailable("failed to increment retry count").WithCause(res.Error)
	}
	return nil
}

// PromoteStale pulls QUEUED leftovers from past windows into the current one,
// appending them after the window's existing positions while preserving their
// relative (priority, position) order.
func (r *QueueRepositoryImpl) PromoteStale(ctx context.Context, currentLabel string) (int64, error) {
	var promoted int64
	err := r.conn.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []*models.QueueItem
		if err := tx.
			Where("status = ? AND window_label <> ?", models.QueueStatusQueued, currentLabel).
			Order("priority asc").
			Order("position asc").
			Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		// Append after every position already handed out in the current
		// window so promoted items never jump ahead of fresh arrivals.
		var tail int64
		if err := tx.Model(&models.QueueItem{}).
			Where("window_label = ?", currentLabel).
			Select("COALESCE(MAX(position), 0)").
			Scan(&tail).Error; err != nil {
			return err
		}

		for i, item := range stale {
			if err := tx.Model(&models.QueueItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"window_label": currentLabel,
					"position":     int(tail) + i + 1,
				}).Error; err != nil {
				return err
			}
		}
		promoted = int64(len(stale))
		return nil
	})
	if err != nil {
		return 0, errors.ErrStoreUnavailable("failed to promote stale items").WithCause(err)
	}
	return promoted, nil
}

// Stats aggregates by status, action type and window, optionally filtered to
// one account. The processing-time mean is computed in Go so the same code
// runs on both PostgreSQL and SQLite.
func (r *QueueRepositoryImpl) Stats(ctx context.Context, accountID string) (*models.QueueStats, error) {
	db := r.conn.DB().WithContext(ctx).Model(&models.QueueItem{})
	if accountID != "" {
		db = db.Where("account_id = ?", accountID)
	}

	stats := &models.QueueStats{
		ByType:   make(map[string]int64),
		ByWindow: make(map[string]int64),
	}

	type bucket struct {
		Key string
		N   int64
	}

	var byStatus []bucket
	if err := db.Session(&gorm.Session{}).
		Select("status as key, count(*) as n").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, errors.ErrStoreUnavailable("failed to aggregate queue stats").WithCause(err)
	}
	for _, b := range byStatus {
		stats.Total += b.N
		switch models.QueueStatus(b.Key) {
		case models.QueueStatusQueued:
			stats.Queued = b.N
		case models.QueueStatusProcessing:
			stats.Processing = b.N
		case models.QueueStatusCompleted:
			stats.Completed = b.N
		case models.QueueStatusFailed:
			stats.Failed = b.N
		}
	}
	stats.Pending = stats.Queued + stats.Processing

	var byType []bucket
	if err := db.Session(&gorm.Session{}).
		Select("action_type as key, count(*) as n").
		Group("action_type").
		Scan(&byType).Error; err != nil {
		return nil, errors.ErrStoreUnavailable("failed to aggregate queue stats").WithCause(err)
	}
	for _, b := range byType {
		stats.ByType[b.Key] = b.N
	}

	var byWindow []bucket
	if err := db.Session(&gorm.Session{}).
		Select("window_label as key, count(*) as n").
		Group("window_label").
		Scan(&byWindow).Error; err != nil {
		return nil, errors.ErrStoreUnavailable("failed to aggregate queue stats").WithCause(err)
	}
	for _, b := range byWindow {
		stats.ByWindow[b.Key] = b.N
	}

	type span struct {
		CreatedAt   time.Time
		ProcessedAt *time.Time
	}
	var spans []span
	if err := db.Session(&gorm.Session{}).
		Select("created_at, processed_at").
		Where("status = ?", models.QueueStatusCompleted).
		Scan(&spans).Error; err != nil {
		return nil, errors.ErrStoreUnavailable("failed to aggregate queue stats").WithCause(err)
	}
	var totalMs float64
	var counted int
	for _, s := range spans {
		if s.ProcessedAt == nil {
			continue
		}
		totalMs += float64(s.ProcessedAt.Sub(s.CreatedAt).Milliseconds())
		counted++
	}
	if counted > 0 {
		stats.AvgProcessingMs = totalMs / float64(counted)
	}

	return stats, nil
}

// DeleteTerminalBefore purges terminal items older than the cutoff. QUEUED
// and PROCESSING items survive regardless of age.
func (r *QueueRepositoryImpl) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.conn.DB().WithContext(ctx).
		Where("status IN ? AND created_at < ?", []models.QueueStatus{
			models.QueueStatusCompleted, models.QueueStatusFailed,
		}, cutoff).
		Delete(&models.QueueItem{})
	if res.Error != nil {
		return 0, errors.ErrStoreUnavailable("failed to clean up queue").WithCause(res.Error)
	}
	if res.RowsAffected > 0 {
		r.logger.Info(ctx, "purged terminal queue items",
			logger.Int64("deleted", res.RowsAffected),
			logger.Time("cutoff", cutoff))
	}
	return res.RowsAffected, nil
}
