// Package supervisor wires the job subsystem's moving parts together: it
// checks every registered job type has worker coverage, then starts the
// worker pools and the advisory-lock-guarded singleton tasks (scheduler,
// recovery, cleanup) and keeps running until its context is cancelled.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreflow/backbone/internal/jobqueue/advisorylock"
	"github.com/coreflow/backbone/internal/jobqueue/registry"
	"github.com/coreflow/backbone/internal/jobqueue/worker"
	"github.com/jackc/pgx/v5/pgxpool"
)

// workerRestartDelay is how long a crashed or returned pool waits before
// it is respawned.
const workerRestartDelay = 10 * time.Second

// SingletonTask is one advisory-lock-guarded background task (scheduler,
// recovery, or cleanup), paired with the lock key it runs under.
type SingletonTask struct {
	Name string
	Key  int64
	Task advisorylock.Task
}

// Extra is any other long-running component the supervisor should keep
// alive for the life of the process, restarted the same way as a worker
// pool. cmd/worker configures none; the websocket dispatcher is started
// by cmd/api directly.
type Extra struct {
	Name string
	Run  func(ctx context.Context)
}

type Supervisor struct {
	Pools      []*worker.Pool
	Singletons []SingletonTask
	Extras     []Extra
	LockPool   *pgxpool.Pool
	Registry   *registry.Registry
	Log        *slog.Logger
}

// verifyCoverage asserts every registered job type is served by at least
// one configured worker pool. A missing pool is a startup-fatal
// configuration error, since a job of that type could never be claimed.
func verifyCoverage(pools []*worker.Pool, names []string) error {
	covered := make(map[string]bool)
	for _, p := range pools {
		for _, t := range p.Config().Types {
			covered[t] = true
		}
	}
	var missing []string
	for _, n := range names {
		if !covered[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no worker pool configured for job types: %v", missing)
	}
	return nil
}

// Run verifies worker coverage, then starts every pool, singleton task,
// and extra component and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := verifyCoverage(s.Pools, s.Registry.Names()); err != nil {
		return err
	}

	var wg sync.WaitGroup

	for _, p := range s.Pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			runWithRestart(ctx, "pool:"+p.Config().Name, s.Log, func() { p.Run(ctx) })
		}(p)
	}

	for _, st := range s.Singletons {
		wg.Add(1)
		go func(st SingletonTask) {
			defer wg.Done()
			advisorylock.Run(ctx, s.LockPool, st.Key, st.Name, s.Log, st.Task)
		}(st)
	}

	for _, ex := range s.Extras {
		wg.Add(1)
		go func(ex Extra) {
			defer wg.Done()
			runWithRestart(ctx, ex.Name, s.Log, func() { ex.Run(ctx) })
		}(ex)
	}

	s.Log.InfoContext(ctx, "supervisor.started", "pools", len(s.Pools), "singletons", len(s.Singletons), "extras", len(s.Extras))

	<-ctx.Done()
	wg.Wait()
	return nil
}

func runWithRestart(ctx context.Context, name string, log *slog.Logger, fn func()) {
	for {
		if ctx.Err() != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.ErrorContext(ctx, "supervisor.task_panicked", "task", name, "panic", r)
				}
			}()
			fn()
		}()
		if ctx.Err() != nil {
			return
		}
		log.WarnContext(ctx, "supervisor.task_restarting", "task", name, "delay", workerRestartDelay)
		t := time.NewTimer(workerRestartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
