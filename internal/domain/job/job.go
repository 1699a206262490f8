// Package job defines the durable entities of the job subsystem: Job rows
// and their append-only JobExecution audit trail.
package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the job state machine's current phase; terminal states are
// Completed and Failed.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPendingRetry Status = "pending_retry"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Result is the outcome of a single execution attempt, recorded in
// JobExecution and never mutated afterward.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	ResultTimedOut  Result = "timed_out"
)

var ErrNotFound = errors.New("job not found")

// Job is the durable unit of work. Arguments is an opaque JSON object
// whose shape is owned by whatever handler is registered for Type.
type Job struct {
	ID              uuid.UUID
	Type            string
	Arguments       json.RawMessage
	Status          Status
	RetryCount      int
	NextExecutionAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ready reports whether the job is eligible to be claimed at now: it must
// be in an admissible status and, if it carries a retry delay, that delay
// must have elapsed.
func (j Job) Ready(now time.Time) bool {
	if j.Status != StatusPending && j.Status != StatusPendingRetry {
		return false
	}
	return j.NextExecutionAt == nil || !j.NextExecutionAt.After(now)
}

// NewRequest describes a caller's intent to enqueue a job; Type and
// Arguments are required, NextExecutionAt is optional ("ready now").
type NewRequest struct {
	Type            string
	Arguments       json.RawMessage
	NextExecutionAt *time.Time
}

// New builds the initial row for req. It does not touch the store; callers
// persist it through a Store.
func New(req NewRequest) Job {
	now := time.Now().UTC()
	args := req.Arguments
	if args == nil {
		args = json.RawMessage(`{}`)
	}
	return Job{
		ID:              uuid.New(),
		Type:            req.Type,
		Arguments:       args,
		Status:          StatusPending,
		RetryCount:      0,
		NextExecutionAt: req.NextExecutionAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Execution is one append-only audit row for an attempt at running a Job,
// including attempts recovery manufactures for crashed workers.
type Execution struct {
	ID              uuid.UUID
	JobID           uuid.UUID
	Result          Result
	StartedAt       time.Time
	FinishedAt      time.Time
	ExecutionTimeMs int64
	FailureReason   *string
	CreatedAt       time.Time
}
