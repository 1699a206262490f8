// Package advisorylock runs a long-lived task under a PostgreSQL
// session-scoped advisory lock so that at most one process in the cluster
// executes it at a time.
package advisorylock

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Well-known lock keys for the singleton background tasks. Values match
// the big-endian ASCII packing of the task name, kept stable across
// deployments so a rolling restart never collides two different tasks on
// the same key.
const (
	KeyScheduler int64 = 0x5343484544554C45
	KeyCleanup   int64 = 0x434C45414E555000
	KeyRecovery  int64 = 0x5245434F56455259
)

// acquireRetryDelay is the base sleep when the lock is held elsewhere;
// jitter up to 2s is added to avoid a thundering herd on leader failure.
const acquireRetryDelay = 5 * time.Second

const acquireErrorDelay = 10 * time.Second

// crashRestartDelay is how long Run waits after a task returns (a task
// returning is always treated as a crash) before trying to reacquire.
const crashRestartDelay = 10 * time.Second

// Task is the unit of work run while the lock is held. It should run
// until ctx is cancelled; any earlier return is treated as a crash.
type Task func(ctx context.Context, pool *pgxpool.Pool) error

// Run loops forever (until ctx is cancelled), attempting to acquire key on
// pool and, while held, running task. It never returns before ctx is done.
func Run(ctx context.Context, pool *pgxpool.Pool, key int64, name string, log *slog.Logger, task Task) {
	for {
		if ctx.Err() != nil {
			return
		}

		acquired, err := tryAcquire(ctx, pool, key)
		switch {
		case err != nil:
			log.ErrorContext(ctx, "advisorylock.acquire_failed", "task", name, "err", err)
			if !sleepCtx(ctx, acquireErrorDelay) {
				return
			}
		case !acquired:
			log.DebugContext(ctx, "advisorylock.held_elsewhere", "task", name)
			jitter := time.Duration(rand.Int63n(int64(2 * time.Second)))
			if !sleepCtx(ctx, acquireRetryDelay+jitter) {
				return
			}
		default:
			log.InfoContext(ctx, "advisorylock.acquired", "task", name)
			runErr := task(ctx, pool)
			if relErr := release(ctx, pool, key); relErr != nil {
				log.WarnContext(ctx, "advisorylock.release_failed", "task", name, "err", relErr)
			}
			if ctx.Err() != nil {
				return
			}
			if runErr != nil {
				log.ErrorContext(ctx, "advisorylock.task_crashed", "task", name, "err", runErr)
			} else {
				log.WarnContext(ctx, "advisorylock.task_returned", "task", name)
			}
			if !sleepCtx(ctx, crashRestartDelay) {
				return
			}
		}
	}
}

func tryAcquire(ctx context.Context, pool *pgxpool.Pool, key int64) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok)
	return ok, err
}

func release(ctx context.Context, pool *pgxpool.Pool, key int64) error {
	var ok bool
	return pool.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok)
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
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
