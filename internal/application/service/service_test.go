package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/domain/models"
	"github.com/replyflow/replyflow/internal/domain/repository"
	"github.com/replyflow/replyflow/internal/infrastructure/audit"
	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	"github.com/replyflow/replyflow/internal/infrastructure/persistence/sqlstore"
	"github.com/replyflow/replyflow/internal/infrastructure/ratelimit"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/logger"
)

// fakeExecutor records execution order and fails or panics on demand, keyed
// by the payload's comment_id.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error
	panicOn  map[string]bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		failOn:  make(map[string]error),
		panicOn: make(map[string]bool),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, actionType models.ActionType, payload json.RawMessage) (json.RawMessage, error) {
	var p models.ReplyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.executed = append(f.executed, p.CommentID)
	f.mu.Unlock()

	if f.panicOn[p.CommentID] {
		panic("executor blew up")
	}
	if err := f.failOn[p.CommentID]; err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"replied_to":%q}`, p.CommentID)), nil
}

func (f *fakeExecutor) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

type testEnv struct {
	clk       *clock.Manual
	limiter   *ratelimit.RedisRateLimiter
	quota     *ratelimit.WindowAggregator
	queueRepo repository.QueueRepository
	logRepo   repository.RateLimitLogRepository
	executor  *fakeExecutor
	admission AdmissionService
	queue     QueueService
	processor ProcessorService
	redisDown func()
}

type envOptions struct {
	hardLimit      int64
	blockThreshold int64
	appLimit       int64 // 0 disables the global quota tier
	maxRetries     int
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.hardLimit == 0 {
		opts.hardLimit = 180
	}
	if opts.blockThreshold == 0 {
		opts.blockThreshold = 170
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewNoopLogger()
	clk := clock.NewManual(time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC))

	limiter, err := ratelimit.NewRedisRateLimiter(client, ratelimit.LimiterConfig{
		HardLimit:      opts.hardLimit,
		BlockThreshold: opts.blockThreshold,
		BlockDuration:  5 * time.Minute,
		Window:         time.Hour,
		KeyPrefix:      "ratelimit:acct",
	}, clk, log)
	require.NoError(t, err)

	var quota *ratelimit.WindowAggregator
	if opts.appLimit > 0 {
		quota, err = ratelimit.NewWindowAggregator(client, ratelimit.AggregatorConfig{
			AppLimit:  opts.appLimit,
			KeyPrefix: "quota:app",
		}, clk, log)
		require.NoError(t, err)
	}

	conn, err := sqlstore.NewTestDBConnection(log)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	queueRepo := sqlstore.NewQueueRepository(conn, log)
	logRepo := sqlstore.NewRateLimitLogRepository(conn, log)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	auditSvc := audit.NewNoopAudit()
	executor := newFakeExecutor()

	var admission AdmissionService
	if quota != nil {
		admission = NewAdmissionService(limiter, quota, logRepo, auditSvc, metrics, clk, log)
	} else {
		admission = NewAdmissionService(limiter, nil, logRepo, auditSvc, metrics, clk, log)
	}

	return &testEnv{
		clk:       clk,
		limiter:   limiter,
		quota:     quota,
		queueRepo: queueRepo,
		logRepo:   logRepo,
		executor:  executor,
		admission: admission,
		queue:     NewQueueService(queueRepo, logRepo, auditSvc, metrics, clk, log, time.Minute),
		processor: NewProcessorService(queueRepo, admission, executor, auditSvc, metrics,
			clk, log, 100, opts.maxRetries),
		redisDown: mr.Close,
	}
}

func (e *testEnv) enqueueReply(t *testing.T, accountID, commentID string, priority int) *models.EnqueueReceipt {
	t.Helper()
	receipt, err := e.queue.Enqueue(context.Background(), &EnqueueRequest{
		AccountID:  accountID,
		OwnerID:    "owner-1",
		ActionType: models.ActionTypeReply,
		Payload:    json.RawMessage(fmt.Sprintf(`{"comment_id":%q,"text":"hello"}`, commentID)),
		Priority:   priority,
	})
	require.NoError(t, err)
	return receipt
}
