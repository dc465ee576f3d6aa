package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/pkg/logger"
)

type countingProcessor struct {
	batches  int32
	cleanups int32
}

func (p *countingProcessor) ProcessBatch(ctx context.Context) (*models.ProcessingSummary, error) {
	atomic.AddInt32(&p.batches, 1)
	return &models.ProcessingSummary{}, nil
}

func (p *countingProcessor) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	atomic.AddInt32(&p.cleanups, 1)
	return 0, nil
}

func TestSchedulerTicksBothLoops(t *testing.T) {
	proc := &countingProcessor{}
	sched := NewScheduler(proc, &config.SchedulerConfig{
		Enabled:         true,
		ProcessInterval: 1,
		CleanupInterval: 1,
	}, 7, logger.NewNoopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	err := sched.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&proc.batches), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&proc.cleanups), int32(1))
}

func TestSchedulerDisabledWaitsForCancel(t *testing.T) {
	proc := &countingProcessor{}
	sched := NewScheduler(proc, &config.SchedulerConfig{Enabled: false}, 7, logger.NewNoopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sched.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), atomic.LoadInt32(&proc.batches))
}
