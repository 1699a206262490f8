// Package cleanup periodically deletes terminal jobs (Completed, Failed)
// past their retention window, in small FIFO batches so a large backlog
// never holds a long-running delete against the job table.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// batchPause limits DB pressure from consecutive delete batches.
const batchPause = 100 * time.Millisecond

type Config struct {
	Interval           time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	BatchSize          int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 2 * time.Hour
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = 48 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	return c
}

type Cleanup struct {
	cfg   Config
	store store.Store
	log   *slog.Logger
}

func New(cfg Config, st store.Store, log *slog.Logger) *Cleanup {
	return &Cleanup{cfg: cfg.withDefaults(), store: st, log: log}
}

// Task adapts Cleanup to the advisorylock.Task signature.
func (c *Cleanup) Task(ctx context.Context, _ *pgxpool.Pool) error {
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()

	c.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Cleanup) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	c.deleteStatus(ctx, job.StatusCompleted, now.Add(-c.cfg.CompletedRetention))
	c.deleteStatus(ctx, job.StatusFailed, now.Add(-c.cfg.FailedRetention))
}

func (c *Cleanup) deleteStatus(ctx context.Context, status job.Status, cutoff time.Time) {
	total := int64(0)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := c.store.DeleteBatch(ctx, []job.Status{status}, cutoff, c.cfg.BatchSize)
		if err != nil {
			c.log.ErrorContext(ctx, "cleanup.delete_batch_failed", "status", status, "err", err)
			return
		}
		total += n
		if n == 0 {
			break
		}
		if !sleepCtx(ctx, batchPause) {
			return
		}
	}
	if total > 0 {
		c.log.InfoContext(ctx, "cleanup.deleted", "status", status, "count", total, "cutoff", cutoff)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
