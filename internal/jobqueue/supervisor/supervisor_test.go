package supervisor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/jobqueue/registry"
	"github.com/coreflow/backbone/internal/jobqueue/store"
	"github.com/coreflow/backbone/internal/jobqueue/supervisor"
	"github.com/coreflow/backbone/internal/jobqueue/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_RunFailsFastWhenAJobTypeHasNoPoolCoverage(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, "orphaned.type", func(ctx context.Context, args struct{}) error { return nil })

	st := store.NewMemory()
	pool := worker.NewPool(worker.PoolConfig{Name: "default", Types: []string{"other.type"}, Count: 1, JobTimeout: time.Second}, st, reg, nil, discardLogger(), nil)

	sup := supervisor.Supervisor{
		Pools:    []*worker.Pool{pool},
		Registry: reg,
		Log:      discardLogger(),
	}

	if err := sup.Run(context.Background()); err == nil {
		t.Fatalf("expected Run to fail when a registered job type has no worker pool")
	}
}

func TestSupervisor_RunStopsCleanlyOnContextCancellation(t *testing.T) {
	reg := registry.New()
	registry.Register(reg, "covered.type", func(ctx context.Context, args struct{}) error { return nil })

	st := store.NewMemory()
	pool := worker.NewPool(worker.PoolConfig{Name: "default", Types: []string{"covered.type"}, Count: 1, JobTimeout: time.Second}, st, reg, nil, discardLogger(), nil)

	var extraRan bool
	sup := supervisor.Supervisor{
		Pools:    []*worker.Pool{pool},
		Registry: reg,
		Log:      discardLogger(),
		Extras: []supervisor.Extra{
			{Name: "probe", Run: func(ctx context.Context) {
				extraRan = true
				<-ctx.Done()
			}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Run to return nil after cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after its context was cancelled")
	}
	if !extraRan {
		t.Fatalf("expected the extra component to have started")
	}
}
