// Package store is the typed view over the job and job_execution tables:
// every state transition the job subsystem can make is exposed as one
// method here, so callers (worker, scheduler, recovery, cleanup) never
// write SQL of their own.
package store

import (
	"context"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/google/uuid"
)

// Store is the durable job store. All methods are safe for concurrent use.
type Store interface {
	// Create inserts a new job row, ready to be claimed once its
	// NextExecutionAt (if any) elapses.
	Create(ctx context.Context, req job.NewRequest) (job.Job, error)

	// ClaimOne atomically selects the oldest ready job whose Type is in
	// types and whose RetryCount is below maxRetries, transitions it to
	// Running, and returns it. It returns job.ErrNotFound when nothing is
	// claimable.
	ClaimOne(ctx context.Context, types []string, maxRetries int) (job.Job, error)

	// RecordExecution appends an audit row. Every execution attempt,
	// including ones recovery manufactures for crashed workers, goes
	// through this method exactly once.
	RecordExecution(ctx context.Context, exec job.Execution) error

	// MarkCompleted transitions id to the terminal Completed state.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailedPermanent transitions id to the terminal Failed state.
	MarkFailedPermanent(ctx context.Context, id uuid.UUID) error

	// MarkPendingRetry transitions id back to PendingRetry with the given
	// retryCount and NextExecutionAt.
	MarkPendingRetry(ctx context.Context, id uuid.UUID, nextExecutionAt time.Time, retryCount int) error

	// FindStuckRunning returns Running jobs of the given types whose
	// UpdatedAt is at or before cutoff — candidates for recovery.
	FindStuckRunning(ctx context.Context, types []string, cutoff time.Time) ([]job.Job, error)

	// ResetToPending resets a stuck job back to Pending without touching
	// RetryCount. Used only by recovery, after it has recorded the
	// TimedOut execution for the attempt it is reclaiming.
	ResetToPending(ctx context.Context, id uuid.UUID) error

	// DeleteBatch removes up to batchSize jobs (and, by cascade, their
	// executions) in one of statuses with CreatedAt at or before cutoff,
	// oldest first. It returns the number of rows deleted; cleanup calls
	// it in a loop until it returns 0.
	DeleteBatch(ctx context.Context, statuses []job.Status, cutoff time.Time, batchSize int) (int64, error)

	// GetByID fetches a single job for admin inspection.
	GetByID(ctx context.Context, id uuid.UUID) (job.Job, error)

	// ListCursor lists jobs newest-first for admin inspection, optionally
	// filtered by status, using an (updated_at, id) keyset cursor.
	ListCursor(ctx context.Context, status *job.Status, limit int, cursor *Cursor) (items []job.Job, next *Cursor, hasMore bool, err error)

	// Retry requeues a Failed job as Pending, resetting RetryCount to 0 and
	// clearing NextExecutionAt; its existing execution rows are kept.
	// It returns ErrNotFailed if the job is not currently Failed.
	Retry(ctx context.Context, id uuid.UUID) error
}

// Cursor is an opaque (updated_at, id) keyset position for ListCursor.
type Cursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}
