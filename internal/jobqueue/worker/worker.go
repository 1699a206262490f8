// Package worker runs one pool of job executors: a goroutine per slot that
// claims the next ready job of a configured set of types, runs it through
// the registry under a wall-clock timeout, and persists the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/registry"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("jobqueue/worker")

// newJobChannel is the LISTEN channel a worker's listener subscribes to;
// producers NOTIFY it whenever they insert a claimable row.
const newJobChannel = "job_new"

// fallbackWait bounds how long a worker waits for NOTIFY job_new before
// polling again on its own, so a missed or coalesced notification never
// stalls the pool indefinitely.
const fallbackWait = 30 * time.Second

// PoolConfig is one `jobs.workers.<pool_name>` entry.
type PoolConfig struct {
	Name                   string
	Types                  []string
	Count                  int
	JobTimeout             time.Duration
	MaxRetries             int
	BaseRetryDelay         time.Duration
	RetryBackoffMultiplier float64
}

// Pool runs Count workers serving Types out of one store.
type Pool struct {
	cfg      PoolConfig
	store    store.Store
	registry *registry.Registry
	prom     *observability.Prom
	log      *slog.Logger
	pool     *pgxpool.Pool // used only to LISTEN for wakeups; nil disables it
}

func NewPool(cfg PoolConfig, st store.Store, reg *registry.Registry, prom *observability.Prom, log *slog.Logger, listenPool *pgxpool.Pool) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.RetryBackoffMultiplier <= 0 {
		cfg.RetryBackoffMultiplier = 2.0
	}
	return &Pool{cfg: cfg, store: st, registry: reg, prom: prom, log: log.With("pool", cfg.Name), pool: listenPool}
}

// Config returns the pool's configuration, used by the supervisor's
// worker-coverage check.
func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// Run starts Count worker goroutines and blocks until ctx is cancelled and
// all of them have returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Count; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.runSlot(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	log := p.log.With("slot", slot)
	for {
		if ctx.Err() != nil {
			return
		}

		claimed := false
		for {
			j, err := p.store.ClaimOne(ctx, p.cfg.Types, p.cfg.MaxRetries)
			if err != nil {
				if errors.Is(err, job.ErrNotFound) {
					break
				}
				log.ErrorContext(ctx, "worker.claim_error", "err", err)
				break
			}
			claimed = true
			p.runOne(ctx, log, j)
		}

		if ctx.Err() != nil {
			return
		}

		if claimed {
			continue
		}

		if !p.waitForWork(ctx, log) {
			return
		}
	}
}

// waitForWork blocks until a wakeup is plausible: either a LISTEN
// notification on job_new, or fallbackWait elapsing, or ctx cancellation
// (in which case it returns false).
func (p *Pool) waitForWork(ctx context.Context, log *slog.Logger) bool {
	if p.pool == nil {
		t := time.NewTimer(time.Second)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		log.WarnContext(ctx, "worker.listen_acquire_failed", "err", err)
		return sleepCtx(ctx, fallbackWait)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+newJobChannel); err != nil {
		log.WarnContext(ctx, "worker.listen_failed", "err", err)
		return sleepCtx(ctx, fallbackWait)
	}

	waitCtx, cancel := context.WithTimeout(ctx, fallbackWait)
	defer cancel()

	_, err = conn.Conn().WaitForNotification(waitCtx)
	if err != nil && ctx.Err() != nil {
		return false
	}
	// Notification received, timeout, or a notification-channel error all
	// fall through to another claim attempt; only outer ctx cancellation
	// stops the loop.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Pool) runOne(ctx context.Context, log *slog.Logger, j job.Job) {
	execCtx, span := tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.id", j.ID.String()),
		attribute.String("job.type", j.Type),
		attribute.Int("job.retry_count", j.RetryCount),
		attribute.String("pool", p.cfg.Name),
	))
	defer span.End()

	if p.prom != nil {
		p.prom.JobsInFlight.Inc()
		defer p.prom.JobsInFlight.Dec()
	}

	start := time.Now().UTC()
	runCtx, cancel := context.WithTimeout(execCtx, p.cfg.JobTimeout)
	defer cancel()

	result, execErr := p.execute(runCtx, j)
	finished := time.Now().UTC()
	duration := finished.Sub(start)

	if p.prom != nil {
		p.prom.JobDuration.WithLabelValues(j.Type, string(result)).Observe(duration.Seconds())
		p.prom.JobResults.WithLabelValues(j.Type, string(result)).Inc()
	}

	var failureReason *string
	if execErr != nil {
		msg := execErr.Error()
		failureReason = &msg
		span.RecordError(execErr)
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "done")
	}

	exec := job.Execution{
		JobID:           j.ID,
		Result:          result,
		StartedAt:       start,
		FinishedAt:      finished,
		ExecutionTimeMs: duration.Milliseconds(),
		FailureReason:   failureReason,
	}
	if err := p.store.RecordExecution(execCtx, exec); err != nil {
		log.ErrorContext(execCtx, "worker.record_execution_failed", "job_id", j.ID, "err", err)
	}

	if result == job.ResultCompleted {
		if err := p.store.MarkCompleted(execCtx, j.ID); err != nil {
			log.ErrorContext(execCtx, "worker.mark_completed_failed", "job_id", j.ID, "err", err)
		}
		log.InfoContext(execCtx, "worker.job_completed", "job_id", j.ID, "job_type", j.Type, "duration_ms", duration.Milliseconds())
		return
	}

	transient := (result == job.ResultFailed && !registry.IsPermanent(execErr)) || result == job.ResultTimedOut
	shouldRetry := transient && j.RetryCount < p.cfg.MaxRetries

	if shouldRetry {
		nextRetryCount := j.RetryCount + 1
		delay := nextRetryDelay(p.cfg.BaseRetryDelay, p.cfg.RetryBackoffMultiplier, nextRetryCount)
		nextAt := finished.Add(delay)
		if err := p.store.MarkPendingRetry(execCtx, j.ID, nextAt, nextRetryCount); err != nil {
			log.ErrorContext(execCtx, "worker.mark_pending_retry_failed", "job_id", j.ID, "err", err)
		}
		log.WarnContext(execCtx, "worker.job_retry_scheduled", "job_id", j.ID, "job_type", j.Type,
			"retry_count", nextRetryCount, "next_execution_at", nextAt, "result", result)
		return
	}

	if err := p.store.MarkFailedPermanent(execCtx, j.ID); err != nil {
		log.ErrorContext(execCtx, "worker.mark_failed_failed", "job_id", j.ID, "err", err)
	}
	log.ErrorContext(execCtx, "worker.job_failed", "job_id", j.ID, "job_type", j.Type, "retry_count", j.RetryCount, "result", result)
}

// execute runs the registered handler and classifies the outcome into the
// three-way JobResult the state machine understands.
func (p *Pool) execute(ctx context.Context, j job.Job) (job.Result, error) {
	done := make(chan error, 1)
	go func() {
		done <- p.registry.Execute(ctx, j.Type, j.Arguments)
	}()

	select {
	case err := <-done:
		if err == nil {
			return job.ResultCompleted, nil
		}
		return job.ResultFailed, err
	case <-ctx.Done():
		return job.ResultTimedOut, fmt.Errorf("job exceeded timeout %s", p.cfg.JobTimeout)
	}
}
