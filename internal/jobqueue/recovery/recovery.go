// Package recovery reclaims jobs abandoned by a crashed worker: rows stuck
// in Running well past their pool's job_timeout are recorded as a timed-out
// execution and reset to Pending, without touching retry_count — a crash
// is a worker failure, not an application failure, so it should not spend
// the job's retry budget.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tick is how often recovery scans for stuck jobs.
const tick = 5 * time.Minute

// PoolWatch names one worker pool's job types and the job_timeout used to
// compute its stuck-job cutoff (2 × job_timeout).
type PoolWatch struct {
	Types      []string
	JobTimeout time.Duration
}

type Recovery struct {
	pools []PoolWatch
	store store.Store
	log   *slog.Logger
}

func New(pools []PoolWatch, st store.Store, log *slog.Logger) *Recovery {
	return &Recovery{pools: pools, store: st, log: log}
}

// Task adapts Recovery to the advisorylock.Task signature.
func (r *Recovery) Task(ctx context.Context, _ *pgxpool.Pool) error {
	t := time.NewTicker(tick)
	defer t.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.sweep(ctx)
		}
	}
}

func (r *Recovery) sweep(ctx context.Context) {
	for _, pool := range r.pools {
		cutoff := time.Now().UTC().Add(-2 * pool.JobTimeout)
		stuck, err := r.store.FindStuckRunning(ctx, pool.Types, cutoff)
		if err != nil {
			r.log.ErrorContext(ctx, "recovery.scan_failed", "types", pool.Types, "err", err)
			continue
		}
		for _, j := range stuck {
			r.reclaim(ctx, j, pool.JobTimeout)
		}
	}
}

func (r *Recovery) reclaim(ctx context.Context, j job.Job, jobTimeout time.Duration) {
	now := time.Now().UTC()
	reason := "worker did not finish within 2x job_timeout (" + (2 * jobTimeout).String() + ")"

	exec := job.Execution{
		JobID:         j.ID,
		Result:        job.ResultTimedOut,
		StartedAt:     j.UpdatedAt,
		FinishedAt:    now,
		FailureReason: &reason,
	}
	if err := r.store.RecordExecution(ctx, exec); err != nil {
		r.log.ErrorContext(ctx, "recovery.record_execution_failed", "job_id", j.ID, "err", err)
		return
	}

	if err := r.store.ResetToPending(ctx, j.ID); err != nil {
		r.log.ErrorContext(ctx, "recovery.reset_failed", "job_id", j.ID, "err", err)
		return
	}

	r.log.WarnContext(ctx, "recovery.job_reclaimed", "job_id", j.ID, "job_type", j.Type, "retry_count", j.RetryCount)
}
