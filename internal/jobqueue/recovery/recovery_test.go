package recovery_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/jobqueue/recovery"
	"github.com/coreflow/backbone/internal/jobqueue/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecovery_ResetsStuckRunningJobWithoutTouchingRetryCount(t *testing.T) {
	st := store.NewMemory()
	args, _ := json.Marshal(struct{}{})
	j, err := st.Create(context.Background(), job.NewRequest{Type: "slow", Arguments: args})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Claim it so it moves to Running, simulating an in-flight attempt
	// whose worker then crashed.
	if _, err := st.ClaimOne(context.Background(), []string{"slow"}, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}

	r := recovery.New([]recovery.PoolWatch{{Types: []string{"slow"}, JobTimeout: 10 * time.Millisecond}}, st, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	// Wait past 2x job_timeout so the scan finds it stuck; Task sweeps
	// once immediately, before its ticker starts.
	time.Sleep(25 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		_ = r.Task(ctx, nil)
		close(done)
	}()
	<-done

	got, err := st.GetByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Fatalf("expected job reset to pending, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("expected retry_count untouched at 0, got %d", got.RetryCount)
	}

	execs := st.Executions(j.ID)
	if len(execs) != 1 || execs[0].Result != job.ResultTimedOut {
		t.Fatalf("expected one timed_out execution recording the crash, got %+v", execs)
	}
}

func TestRecovery_LeavesFreshRunningJobsAlone(t *testing.T) {
	st := store.NewMemory()
	args, _ := json.Marshal(struct{}{})
	j, err := st.Create(context.Background(), job.NewRequest{Type: "slow", Arguments: args})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ClaimOne(context.Background(), []string{"slow"}, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}

	r := recovery.New([]recovery.PoolWatch{{Types: []string{"slow"}, JobTimeout: time.Hour}}, st, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = r.Task(ctx, nil)

	got, err := st.GetByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusRunning {
		t.Fatalf("expected job to remain running, got %s", got.Status)
	}
}
