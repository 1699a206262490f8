package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreflow/backbone/internal/auth"
	"github.com/coreflow/backbone/internal/config"
	"github.com/coreflow/backbone/internal/db"
	"github.com/coreflow/backbone/internal/health"
	"github.com/coreflow/backbone/internal/httpapi"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/coreflow/backbone/internal/queue/redisclient"
	"github.com/coreflow/backbone/internal/ratelimit"
	"github.com/coreflow/backbone/internal/ws/dispatcher"
	"github.com/coreflow/backbone/internal/ws/hub"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load the config set up
	_ = godotenv.Load()
	cfg := config.Load()

	// Root context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// init tracing first so all spans/logs can attach
	shutdownTracer, err := observability.InitTracer(context.Background(), "backbone-api", "localhost:4317")
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	log := slog.New(observability.NewTraceHandler(observability.NewLogger(cfg.Env).Handler()))
	slog.SetDefault(log)

	if err := db.Migrate(cfg.DBURL); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(cfg.DBURL, int32(cfg.DBPoolSize))
	if err != nil {
		log.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	redis := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redis.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	jobStore := store.NewPostgres(pool, prom)
	jwt := auth.NewManager(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	limiter := ratelimit.New(cfg.RateLimit)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				limiter.PruneIdle()
			}
		}
	}()

	// No application-specific WebSocket request handling is wired yet; a
	// nil ApplicationHandler means Request frames of kind "application"
	// are simply rejected with an error frame.
	wsHub := hub.New(nil, prom, log)
	disp := dispatcher.New(pool, wsHub, prom, log)
	go disp.Run(ctx)

	checker := &health.Checker{DB: pool, Redis: redis}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:   jobStore,
		JWT:     jwt,
		Prom:    prom,
		Limiter: limiter,
		Hub:     wsHub,
		Health:  checker,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// start server in the background using an anonymous function
	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Block until we get SIGINT/SIGTERM
	<-ctx.Done()
	log.Info("shutdown signal received")
	checker.MarkShuttingDown()

	// Graceful shutdown with timeout
	shutdownContext, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFunc()

	if err := srv.Shutdown(shutdownContext); err != nil {
		log.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close() // last resort
	} else {
		log.Info("server stopped gracefully.")
	}
}
