package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/jobqueue/scheduler"
	"github.com/coreflow/backbone/internal/jobqueue/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_BlocksUntilContextCancelledThenReturnsNil(t *testing.T) {
	st := store.NewMemory()
	s := scheduler.New([]scheduler.ScheduledJob{
		{Name: "heartbeat", JobName: "heartbeat.tick", CronExpression: "* * * * * *"},
	}, st, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Task(ctx, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Task did not return after its context was cancelled")
	}
}

func TestScheduler_SkipsEntryWithInvalidCron(t *testing.T) {
	st := store.NewMemory()
	s := scheduler.New([]scheduler.ScheduledJob{
		{Name: "broken", JobName: "broken.tick", CronExpression: "not a cron expression"},
	}, st, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// An invalid entry must not make Task return an error or panic; it is
	// skipped and logged, leaving every other entry free to run.
	if err := s.Task(ctx, nil); err != nil {
		t.Fatalf("expected Task to tolerate a bad entry, got %v", err)
	}

	items, _, _, err := st.ListCursor(context.Background(), nil, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, j := range items {
		if j.Type == "broken.tick" {
			t.Fatalf("invalid cron entry should never enqueue a job")
		}
	}
}

func TestScheduler_NoEntriesReturnsPromptly(t *testing.T) {
	st := store.NewMemory()
	s := scheduler.New(nil, st, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := s.Task(ctx, nil); err != nil {
		t.Fatalf("expected nil error with no entries, got %v", err)
	}
}
