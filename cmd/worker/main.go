package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreflow/backbone/internal/app/examplejobs"
	"github.com/coreflow/backbone/internal/config"
	"github.com/coreflow/backbone/internal/db"
	"github.com/coreflow/backbone/internal/health"
	"github.com/coreflow/backbone/internal/jobqueue/advisorylock"
	"github.com/coreflow/backbone/internal/jobqueue/cleanup"
	"github.com/coreflow/backbone/internal/jobqueue/recovery"
	"github.com/coreflow/backbone/internal/jobqueue/registry"
	"github.com/coreflow/backbone/internal/jobqueue/scheduler"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/jobqueue/supervisor"
	"github.com/coreflow/backbone/internal/jobqueue/worker"
	"github.com/coreflow/backbone/internal/notifications"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) init tracing first (so all spans/logs can attach)
	shutdownTracer, err := observability.InitTracer(context.Background(), "backbone-worker", "localhost:4317")
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// 2) setup slog + trace handler (so logs include trace_id/span_id)
	logger := slog.New(observability.NewTraceHandler(observability.NewLogger(cfg.Env).Handler()))
	slog.SetDefault(logger)

	if err := db.Migrate(cfg.DBURL); err != nil {
		logger.ErrorContext(ctx, "migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(cfg.DBURL, int32(cfg.DBPoolSize))
	if err != nil {
		logger.ErrorContext(ctx, "db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Prom registry
	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	jobStore := store.NewPostgres(pool, prom)

	baseNotifier := notifications.NewLogNotifier()
	notifier := notifications.NewProtectedNotifier(baseNotifier, notifications.ProtectedNotifierConfig{
		Timeout:          2 * time.Second,
		FailureThreshold: 3,
		Cooldown:         15 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	jobRegistry := registry.New()
	examplejobs.RegisterJob(jobRegistry, notifier)

	pools := make([]*worker.Pool, 0, len(cfg.Workers))
	watches := make([]recovery.PoolWatch, 0, len(cfg.Workers))
	for name, pc := range cfg.Workers {
		pools = append(pools, worker.NewPool(worker.PoolConfig{
			Name:                   name,
			Types:                  pc.Types,
			Count:                  pc.Count,
			JobTimeout:             pc.JobTimeout,
			MaxRetries:             pc.MaxRetries,
			BaseRetryDelay:         pc.BaseRetryDelay,
			RetryBackoffMultiplier: pc.RetryBackoffMultiplier,
		}, jobStore, jobRegistry, prom, logger, pool))
		watches = append(watches, recovery.PoolWatch{Types: pc.Types, JobTimeout: pc.JobTimeout})
	}

	sched := scheduler.New(nil, jobStore, logger)
	rec := recovery.New(watches, jobStore, logger)
	clean := cleanup.New(cleanup.Config{
		Interval:           cfg.Cleanup.Interval,
		CompletedRetention: cfg.Cleanup.CompletedRetention,
		FailedRetention:    cfg.Cleanup.FailedRetention,
		BatchSize:          cfg.Cleanup.BatchSize,
	}, jobStore, logger)

	sup := supervisor.Supervisor{
		Pools: pools,
		Singletons: []supervisor.SingletonTask{
			{Name: "scheduler", Key: advisorylock.KeyScheduler, Task: sched.Task},
			{Name: "recovery", Key: advisorylock.KeyRecovery, Task: rec.Task},
			{Name: "cleanup", Key: advisorylock.KeyCleanup, Task: clean.Task},
		},
		LockPool: pool,
		Registry: jobRegistry,
		Log:      logger,
	}

	healthAddr := os.Getenv("WORKER_HEALTH_ADDR")
	if healthAddr == "" {
		healthAddr = ":8081"
	}
	checker := &health.Checker{DB: pool}
	healthRouter := gin.New()
	healthRouter.GET("/liveness", checker.Liveness)
	healthRouter.GET("/readiness", checker.Readiness)
	healthRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))
	healthSrv := &http.Server{Addr: healthAddr, Handler: healthRouter}
	go func() {
		logger.InfoContext(ctx, "worker.health_listening", "addr", healthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(ctx, "worker.health_server_failed", "err", err)
		}
	}()

	logger.InfoContext(ctx, "worker.start", "pools", len(pools))

	runErr := sup.Run(ctx)

	checker.MarkShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = healthSrv.Shutdown(shutdownCtx)
	cancel()

	if runErr != nil {
		logger.ErrorContext(context.Background(), "worker.run_failed", "err", runErr)
		os.Exit(1)
	}

	logger.InfoContext(context.Background(), "worker.shutdown_complete")
}
