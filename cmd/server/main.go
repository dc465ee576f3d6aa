// Command server runs the replyflow HTTP service: the rate limiter, the
// deferred-action queue and the background processor scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/replyflow/replyflow/internal/application/service"
	"github.com/replyflow/replyflow/internal/config"
	domainservice "github.com/replyflow/replyflow/internal/domain/service"
	"github.com/replyflow/replyflow/internal/infrastructure/audit"
	"github.com/replyflow/replyflow/internal/infrastructure/dispatch"
	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	redisconn "github.com/replyflow/replyflow/internal/infrastructure/persistence/redis"
	"github.com/replyflow/replyflow/internal/infrastructure/persistence/sqlstore"
	"github.com/replyflow/replyflow/internal/infrastructure/ratelimit"
	httpapi "github.com/replyflow/replyflow/internal/interfaces/http"
	"github.com/replyflow/replyflow/internal/interfaces/http/handlers"
	"github.com/replyflow/replyflow/internal/scheduler"
	"github.com/replyflow/replyflow/pkg/clock"
	"github.com/replyflow/replyflow/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	shutdownTracer, err := monitoring.InitTracer(&cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracer()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	clk := clock.System()

	db, err := sqlstore.NewDBConnection(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rdb, err := redisconn.NewConnection(&cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	limiter, err := ratelimit.NewRedisRateLimiter(rdb.Client, ratelimit.LimiterConfig{
		HardLimit:      cfg.RateLimit.HardLimit,
		BlockThreshold: cfg.RateLimit.BlockThreshold,
		BlockDuration:  cfg.RateLimit.Block(),
		Window:         cfg.RateLimit.Window(),
		KeyPrefix:      cfg.RateLimit.KeyPrefix,
	}, clk, log)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}

	var quota domainservice.GlobalQuotaService
	if cfg.AppQuota.Enabled {
		aggregator, err := ratelimit.NewWindowAggregator(rdb.Client, ratelimit.AggregatorConfig{
			AppLimit:  cfg.AppQuota.AppLimit,
			KeyPrefix: cfg.AppQuota.KeyPrefix,
		}, clk, log)
		if err != nil {
			return fmt.Errorf("init window aggregator: %w", err)
		}
		quota = aggregator
	}

	queueRepo := sqlstore.NewQueueRepository(db, log)
	logRepo := sqlstore.NewRateLimitLogRepository(db, log)

	auditSvc := audit.NewNoopAudit()
	if cfg.Kafka.Enabled {
		auditSvc, err = audit.NewKafkaProducer(&cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("init kafka audit: %w", err)
		}
	}
	defer auditSvc.Close()

	executor := dispatch.NewHTTPExecutor(&cfg.Dispatch, log)

	admissionSvc := service.NewAdmissionService(limiter, quota, logRepo, auditSvc, metrics, clk, log)
	queueSvc := service.NewQueueService(queueRepo, logRepo, auditSvc, metrics, clk, log, cfg.Scheduler.Process())
	processorSvc := service.NewProcessorService(queueRepo, admissionSvc, executor, auditSvc, metrics,
		clk, log, cfg.Queue.BatchSize, cfg.Queue.MaxRetries)

	router := httpapi.NewRouter(cfg, log, metrics,
		handlers.NewHealthHandler(db, rdb, log),
		handlers.NewAdmissionHandler(admissionSvc, log),
		handlers.NewQueueHandler(queueSvc, processorSvc, log),
	)
	sched := scheduler.NewScheduler(processorSvc, &cfg.Scheduler, cfg.Queue.RetentionDays, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(router.Start)
	g.Go(func() error {
		err := sched.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return router.Stop(shutdownCtx)
	})

	log.Info(ctx, "replyflow server started",
		logger.String("address", cfg.Server.Address()),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
		logger.Bool("app_quota", cfg.AppQuota.Enabled))

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info(context.Background(), "replyflow server stopped")
	return nil
}
