package service

import (
	"context"
	"fmt"
	"time"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/repository"
	domainservice "github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/logger"
)

// ProcessorService drains the queue in batches, re-checking admission for
// every item. Multiple processor instances may run concurrently; the claim
// step in the store arbitrates ownership.
type ProcessorService interface {
	// ProcessBatch handles one drain pass over the current window's queue.
	ProcessBatch(ctx context.Context) (*models.ProcessingSummary, error)

	// Cleanup deletes terminal items older than the retention horizon.
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

type processorService struct {
	repo       repository.QueueRepository
	admission  AdmissionService
	executor   domainservice.Executor
	audit      domainservice.AuditService
	metrics    *monitoring.Metrics
	clock      clock.Clock
	logger     logger.Logger
	batchSize  int
	maxRetries int
}

// NewProcessorService creates the batch processor. maxRetries of zero means
// denied items are requeued indefinitely.
func NewProcessorService(
	repo repository.QueueRepository,
	admission AdmissionService,
	executor domainservice.Executor,
	audit domainservice.AuditService,
	metrics *monitoring.Metrics,
	clk clock.Clock,
	log logger.Logger,
	batchSize int,
	maxRetries int,
) ProcessorService {
	if clk == nil {
		clk = clock.System()
	}
	return &processorService{
		repo:       repo,
		admission:  admission,
		executor:   executor,
		audit:      audit,
		metrics:    metrics,
		clock:      clk,
		logger:     log.WithComponent("queue_processor"),
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// ProcessBatch promotes stale items into the current window, fetches the next
// batch in (priority, position) order, and walks it. Each item gets a fresh
// admission check; a denied item stays queued for a later pass. One failing
// item never aborts the batch, but a store outage does, since without the
// limiter every execution would risk the external quota.
func (p *processorService) ProcessBatch(ctx context.Context) (*models.ProcessingSummary, error) {
	started := p.clock.Now()
	currentLabel := models.WindowLabelAt(started)

	summary := &models.ProcessingSummary{}

	promoted, err := p.repo.PromoteStale(ctx, currentLabel)
	if err != nil {
		return nil, fmt.Errorf("promote stale items: %w", err)
	}
	summary.Promoted = promoted
	if promoted > 0 {
		p.logger.Info(ctx, "promoted stale queue items",
			logger.Int64("count", promoted), logger.String("window", currentLabel))
	}

	items, err := p.repo.NextBatch(ctx, currentLabel, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}

		decision, err := p.admission.CanMakeCall(ctx, item.AccountID, item.OwnerID, string(item.ActionType))
		if err != nil {
			// Store unavailable: stop the pass rather than guess at headroom.
			p.finishBatch(ctx, started, summary)
			return summary, fmt.Errorf("admission check for item %s: %w", item.ID, err)
		}

		if !decision.Allowed {
			p.handleDenied(ctx, item, summary)
			continue
		}

		claimed, err := p.repo.Claim(ctx, item.ID)
		if err != nil {
			p.logger.Error(ctx, "failed to claim queue item", err, logger.String("queue_id", item.ID))
			summary.Skipped++
			continue
		}
		if !claimed {
			// Another processor run got here first.
			summary.Skipped++
			continue
		}

		p.execute(ctx, item, summary)
	}

	p.finishBatch(ctx, started, summary)
	return summary, nil
}

// handleDenied requeues a denied item, or fails it once the retry cap is hit.
func (p *processorService) handleDenied(ctx context.Context, item *models.QueueItem, summary *models.ProcessingSummary) {
	if p.maxRetries > 0 && item.RetryCount+1 >= p.maxRetries {
		if err := p.repo.Finalize(ctx, item.ID, models.QueueStatusFailed, nil,
			"retry limit exceeded", p.clock.Now()); err != nil {
			p.logger.Error(ctx, "failed to fail retry-limited item", err,
				logger.String("queue_id", item.ID))
			return
		}
		summary.RetryLimited++
		p.metrics.RecordProcessed("retry_limited", 1)
		p.publishOutcome(ctx, item, "retry_limited", "")
		return
	}

	if err := p.repo.IncrementRetry(ctx, item.ID); err != nil {
		p.logger.Error(ctx, "failed to increment retry count", err,
			logger.String("queue_id", item.ID))
	}
	summary.Skipped++
	p.metrics.RecordProcessed("skipped", 1)
}

// execute runs the action through the executor and finalizes the item. A
// panicking executor marks the item FAILED instead of taking the run down.
func (p *processorService) execute(ctx context.Context, item *models.QueueItem, summary *models.ProcessingSummary) {
	summary.Processed++

	result, execErr := p.safeExecute(ctx, item)

	now := p.clock.Now()
	if execErr != nil {
		if err := p.repo.Finalize(ctx, item.ID, models.QueueStatusFailed, nil, execErr.Error(), now); err != nil {
			p.logger.Error(ctx, "failed to finalize failed item", err, logger.String("queue_id", item.ID))
			return
		}
		summary.Failed++
		p.metrics.RecordProcessed("failed", 1)
		p.publishOutcome(ctx, item, "failed", execErr.Error())
		p.logger.Warn(ctx, "queue item failed",
			logger.String("queue_id", item.ID),
			logger.String("account_id", item.AccountID),
			logger.Err(execErr))
		return
	}

	if err := p.repo.Finalize(ctx, item.ID, models.QueueStatusCompleted, result, "", now); err != nil {
		p.logger.Error(ctx, "failed to finalize completed item", err, logger.String("queue_id", item.ID))
		return
	}
	summary.Succeeded++
	p.metrics.RecordProcessed("succeeded", 1)
	p.publishOutcome(ctx, item, "completed", "")
}

func (p *processorService) safeExecute(ctx context.Context, item *models.QueueItem) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return p.executor.Execute(ctx, item.ActionType, item.Payload)
}

func (p *processorService) publishOutcome(ctx context.Context, item *models.QueueItem, outcome, errMsg string) {
	detail := map[string]interface{}{
		"queue_id":    item.ID,
		"action_type": item.ActionType,
		"outcome":     outcome,
	}
	if errMsg != "" {
		detail["error"] = errMsg
	}
	if err := p.audit.Publish(ctx, domainservice.AuditEvent{
		Kind:      "processed",
		AccountID: item.AccountID,
		OwnerID:   item.OwnerID,
		Timestamp: p.clock.Now(),
		Detail:    detail,
	}); err != nil {
		p.logger.Warn(ctx, "failed to publish processing audit event", logger.Err(err))
	}
}

func (p *processorService) finishBatch(ctx context.Context, started time.Time, summary *models.ProcessingSummary) {
	summary.Duration = p.clock.Now().Sub(started)
	summary.DurationMs = summary.Duration.Milliseconds()
	p.metrics.RecordBatch(summary.Duration)

	if summary.Processed > 0 || summary.Skipped > 0 || summary.RetryLimited > 0 || summary.Promoted > 0 {
		p.logger.Info(ctx, "batch complete",
			logger.Int("processed", summary.Processed),
			logger.Int("succeeded", summary.Succeeded),
			logger.Int("failed", summary.Failed),
			logger.Int("skipped", summary.Skipped),
			logger.Int("retry_limited", summary.RetryLimited),
			logger.Int64("promoted", summary.Promoted),
			logger.Int64("duration_ms", summary.DurationMs))
	}
}

// Cleanup purges terminal items past the retention horizon. Items still
// QUEUED or PROCESSING are never touched regardless of age.
func (p *processorService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := p.clock.Now().AddDate(0, 0, -retentionDays)
	deleted, err := p.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup terminal items: %w", err)
	}
	p.metrics.RecordCleanup(deleted)
	if deleted > 0 {
		p.logger.Info(ctx, "cleanup complete",
			logger.Int64("deleted", deleted),
			logger.Time("cutoff", cutoff))
	}
	return deleted, nil
}
