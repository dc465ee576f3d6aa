package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/repository"
	domainservice "github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/constants"
	apperrors "github.com/replyflow/replyflow/pkg/errors"
	"github.com/replyflow/replyflow/pkg/logger"
)

// EnqueueRequest is everything the caller supplies when deferring an action.
type EnqueueRequest struct {
	AccountID  string            `json:"account_id"`
	OwnerID    string            `json:"owner_id"`
	ActionType models.ActionType `json:"action_type"`
	Payload    json.RawMessage   `json:"payload"`

	// Priority defaults to constants.DefaultPriority when zero. Lower
	// drains first.
	Priority int `json:"priority"`

	// OriginalTimestamp is when the caller first attempted the action. Zero
	// means "now".
	OriginalTimestamp time.Time `json:"original_timestamp"`
}

// QueueService manages the durable deferred-action queue.
type QueueService interface {
	Enqueue(ctx context.Context, req *EnqueueRequest) (*models.EnqueueReceipt, error)
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	GetStats(ctx context.Context, accountID string) (*models.QueueStats, error)
}

type queueService struct {
	repo            repository.QueueRepository
	logRepo         repository.RateLimitLogRepository
	audit           domainservice.AuditService
	metrics         *monitoring.Metrics
	clock           clock.Clock
	logger          logger.Logger
	processInterval time.Duration
}

// NewQueueService creates the queue service. processInterval is the cadence
// of the batch processor; it drives the scheduledFor estimate on receipts.
func NewQueueService(
	repo repository.QueueRepository,
	logRepo repository.RateLimitLogRepository,
	audit domainservice.AuditService,
	metrics *monitoring.Metrics,
	clk clock.Clock,
	log logger.Logger,
	processInterval time.Duration,
) QueueService {
	if clk == nil {
		clk = clock.System()
	}
	return &queueService{
		repo:            repo,
		logRepo:         logRepo,
		audit:           audit,
		metrics:         metrics,
		clock:           clk,
		logger:          log.WithComponent("queue_service"),
		processInterval: processInterval,
	}
}

// Enqueue validates and persists a deferred action, assigning it to the
// current hour's window. Position assignment happens inside the insert
// transaction so concurrent enqueues never collide.
func (s *queueService) Enqueue(ctx context.Context, req *EnqueueRequest) (*models.EnqueueReceipt, error) {
	if req.AccountID == "" {
		return nil, apperrors.ErrInvalidRequest("account_id is required")
	}
	if !req.ActionType.Valid() {
		return nil, apperrors.ErrInvalidRequest(fmt.Sprintf("unknown action_type %q", req.ActionType))
	}
	if len(req.Payload) == 0 {
		return nil, apperrors.ErrInvalidRequest("payload is required")
	}

	now := s.clock.Now()

	priority := req.Priority
	if priority == 0 {
		priority = constants.DefaultPriority
	}
	original := req.OriginalTimestamp
	if original.IsZero() {
		original = now
	}

	item := &models.QueueItem{
		ID:                uuid.NewString(),
		AccountID:         req.AccountID,
		OwnerID:           req.OwnerID,
		ActionType:        req.ActionType,
		Payload:           req.Payload,
		Priority:          priority,
		Status:            models.QueueStatusQueued,
		WindowLabel:       models.WindowLabelAt(now),
		RetryCount:        0,
		OriginalTimestamp: original,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, err
	}

	// A queued action is also an admission outcome worth auditing.
	entry := &models.RateLimitLogEntry{
		AccountID: req.AccountID,
		OwnerID:   req.OwnerID,
		Action:    string(req.ActionType),
		Timestamp: now,
		Status:    models.LogStatusQueued,
	}
	if err := s.logRepo.Append(ctx, entry); err != nil {
		s.logger.Warn(ctx, "failed to append queue log entry",
			logger.String("account_id", req.AccountID), logger.Err(err))
	}

	s.metrics.RecordEnqueue(string(req.ActionType))
	if err := s.audit.Publish(ctx, domainservice.AuditEvent{
		Kind:      "enqueued",
		AccountID: req.AccountID,
		OwnerID:   req.OwnerID,
		Timestamp: now,
		Detail:    map[string]interface{}{"queue_id": item.ID, "action_type": req.ActionType},
	}); err != nil {
		s.logger.Warn(ctx, "failed to publish enqueue audit event", logger.Err(err))
	}

	s.logger.Info(ctx, "action queued",
		logger.String("queue_id", item.ID),
		logger.String("account_id", req.AccountID),
		logger.String("action_type", string(req.ActionType)),
		logger.String("window", item.WindowLabel),
		logger.Int("position", item.Position))

	return &models.EnqueueReceipt{
		QueueID:      item.ID,
		ScheduledFor: s.nextProcessingSlot(now),
	}, nil
}

// Get loads one queue item.
func (s *queueService) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	return s.repo.FindByID(ctx, id)
}

// GetStats aggregates queue counts, optionally scoped to one account.
func (s *queueService) GetStats(ctx context.Context, accountID string) (*models.QueueStats, error) {
	return s.repo.Stats(ctx, accountID)
}

// nextProcessingSlot estimates when the next processor run will pick the item
// up. It is a hint for callers, not a guarantee.
func (s *queueService) nextProcessingSlot(now time.Time) time.Time {
	if s.processInterval <= 0 {
		return now
	}
	return now.Truncate(s.processInterval).Add(s.processInterval)
}
