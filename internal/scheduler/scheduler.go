// Package scheduler runs the periodic queue maintenance loops: the batch
// processor and the terminal-item cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/replyflow/replyflow/internal/application/service"
	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/pkg/logger"
)

// Scheduler ticks the processor and cleanup at configured intervals. Each
// loop runs until the context is cancelled; failures are logged and the loop
// keeps ticking, since a transient store outage should not stop the drain.
type Scheduler struct {
	processor     service.ProcessorService
	cfg           *config.SchedulerConfig
	retentionDays int
	logger        logger.Logger
}

// NewScheduler creates the scheduler.
func NewScheduler(processor service.ProcessorService, cfg *config.SchedulerConfig, retentionDays int, log logger.Logger) *Scheduler {
	return &Scheduler{
		processor:     processor,
		cfg:           cfg,
		retentionDays: retentionDays,
		logger:        log.WithComponent("scheduler"),
	}
}

// Run blocks until ctx is cancelled, driving both loops.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info(ctx, "scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	processTicker := time.NewTicker(s.cfg.Process())
	defer processTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.Cleanup())
	defer cleanupTicker.Stop()

	s.logger.Info(ctx, "scheduler started",
		logger.Duration("process_interval", s.cfg.Process()),
		logger.Duration("cleanup_interval", s.cfg.Cleanup()))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-processTicker.C:
			if _, err := s.processor.ProcessBatch(ctx); err != nil {
				s.logger.Error(ctx, "batch processing failed", err)
			}
		case <-cleanupTicker.C:
			if _, err := s.processor.Cleanup(ctx, s.retentionDays); err != nil {
				s.logger.Error(ctx, "cleanup failed", err)
			}
		}
	}
}
