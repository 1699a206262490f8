// Package scheduler turns cron-described recurring jobs into rows in the
// job table. It runs under the scheduler advisory lock (see
// internal/jobqueue/advisorylock), so only one process in the cluster
// runs the entries at a time. Ticks are not deduplicated across a change
// of lock holder: a new holder computes the next instant from its own
// start time, so an instant in flight at the handoff can fire twice, and
// handlers of scheduled job types must be idempotent.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

// ScheduledJob is one cron-triggered recurring job definition.
type ScheduledJob struct {
	Name           string
	JobName        string
	Arguments      json.RawMessage
	CronExpression string
}

// retryWait is how long a per-entry goroutine sleeps before rechecking
// Schedule.Next when the cron schedule reports no upcoming fire time.
const retryWait = 60 * time.Second

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler spawns one goroutine per ScheduledJob that sleeps until the
// entry's next cron instant and then inserts a Pending job row.
type Scheduler struct {
	entries []ScheduledJob
	store   store.Store
	log     *slog.Logger
}

func New(entries []ScheduledJob, st store.Store, log *slog.Logger) *Scheduler {
	return &Scheduler{entries: entries, store: st, log: log}
}

// Task adapts Scheduler to the advisorylock.Task signature: it runs every
// entry concurrently and blocks until ctx is cancelled. A per-entry cron
// parse failure is fatal only for that entry; the rest still run.
func (s *Scheduler) Task(ctx context.Context, _ *pgxpool.Pool) error {
	var wg sync.WaitGroup
	for _, entry := range s.entries {
		schedule, err := parser.Parse(entry.CronExpression)
		if err != nil {
			s.log.ErrorContext(ctx, "scheduler.invalid_cron", "entry", entry.Name, "expr", entry.CronExpression, "err", err)
			continue
		}
		wg.Add(1)
		go func(entry ScheduledJob, schedule cron.Schedule) {
			defer wg.Done()
			s.runEntry(ctx, entry, schedule)
		}(entry, schedule)
	}
	wg.Wait()
	return nil
}

func jobNewRequest(entry ScheduledJob) job.NewRequest {
	return job.NewRequest{Type: entry.JobName, Arguments: entry.Arguments}
}

func (s *Scheduler) runEntry(ctx context.Context, entry ScheduledJob, schedule cron.Schedule) {
	log := s.log.With("entry", entry.Name, "job_type", entry.JobName)
	for {
		if ctx.Err() != nil {
			return
		}

		next := schedule.Next(time.Now())
		if next.IsZero() {
			if !sleepCtx(ctx, retryWait) {
				return
			}
			continue
		}

		if !sleepUntil(ctx, next) {
			return
		}

		if _, err := s.store.Create(ctx, jobNewRequest(entry)); err != nil {
			log.ErrorContext(ctx, "scheduler.enqueue_failed", "fire_time", next, "err", err)
			continue
		}
		log.InfoContext(ctx, "scheduler.enqueued", "fire_time", next)
	}
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return sleepCtx(ctx, d)
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
