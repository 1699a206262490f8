package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/registry"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/jobqueue/worker"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runPoolUntilTerminal(t *testing.T, st *store.Memory, id, jobType string, cfg worker.PoolConfig, reg *registry.Registry) job.Job {
	t.Helper()
	cfg.Types = []string{jobType}
	p := worker.NewPool(cfg, st, reg, nil, discardLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	jobID, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, err := st.GetByID(context.Background(), jobID)
		if err == nil && j.Status != job.StatusRunning && j.Status != job.StatusPending {
			cancel()
			<-done
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatalf("job %s never reached a terminal/waiting state in time", id)
	return job.Job{}
}

func TestPool_CompletesSuccessfulJob(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	registry.Register(reg, "noop", func(ctx context.Context, args struct{}) error { return nil })

	args, _ := json.Marshal(struct{}{})
	j, err := st.Create(context.Background(), job.NewRequest{Type: "noop", Arguments: args})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result := runPoolUntilTerminal(t, st, j.ID.String(), "noop", worker.PoolConfig{
		Count: 1, JobTimeout: time.Second, MaxRetries: 3, BaseRetryDelay: 10 * time.Millisecond,
	}, reg)

	if result.Status != job.StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if execs := st.Executions(j.ID); len(execs) != 1 || execs[0].Result != job.ResultCompleted {
		t.Fatalf("expected one completed execution, got %+v", execs)
	}
}

func TestPool_SchedulesRetryOnTransientFailure(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	var calls int32
	registry.Register(reg, "flaky", func(ctx context.Context, args struct{}) error {
		atomic.AddInt32(&calls, 1)
		return registry.TryAgainLater("not yet")
	})

	args, _ := json.Marshal(struct{}{})
	j, err := st.Create(context.Background(), job.NewRequest{Type: "flaky", Arguments: args})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result := runPoolUntilTerminal(t, st, j.ID.String(), "flaky", worker.PoolConfig{
		Count: 1, JobTimeout: time.Second, MaxRetries: 3, BaseRetryDelay: time.Hour,
	}, reg)

	if result.Status != job.StatusPendingRetry {
		t.Fatalf("expected pending_retry, got %s", result.Status)
	}
	if result.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", result.RetryCount)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one call before the long retry delay, got %d", calls)
	}
}

func TestPool_PermanentFailureSkipsRetryBudget(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	registry.Register(reg, "doomed", func(ctx context.Context, args struct{}) error {
		return registry.FailPermanently("never going to work")
	})

	args, _ := json.Marshal(struct{}{})
	j, err := st.Create(context.Background(), job.NewRequest{Type: "doomed", Arguments: args})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result := runPoolUntilTerminal(t, st, j.ID.String(), "doomed", worker.PoolConfig{
		Count: 1, JobTimeout: time.Second, MaxRetries: 5, BaseRetryDelay: 10 * time.Millisecond,
	}, reg)

	if result.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestPool_TimeoutIsRetryable(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	registry.Register(reg, "slow", func(ctx context.Context, args struct{}) error {
		<-ctx.Done()
		return errors.New("should not reach here")
	})

	args, _ := json.Marshal(struct{}{})
	j, err := st.Create(context.Background(), job.NewRequest{Type: "slow", Arguments: args})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result := runPoolUntilTerminal(t, st, j.ID.String(), "slow", worker.PoolConfig{
		Count: 1, JobTimeout: 20 * time.Millisecond, MaxRetries: 3, BaseRetryDelay: time.Hour,
	}, reg)

	if result.Status != job.StatusPendingRetry {
		t.Fatalf("expected pending_retry after timeout, got %s", result.Status)
	}
	if execs := st.Executions(j.ID); len(execs) != 1 || execs[0].Result != job.ResultTimedOut {
		t.Fatalf("expected one timed_out execution, got %+v", execs)
	}
}
