package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests that exercise worker,
// recovery, and cleanup decision logic without a live Postgres instance.
// It implements the same strict-FIFO claim semantics the real store gets
// from FOR UPDATE by holding a single mutex for the whole
// claim-and-transition sequence.
type Memory struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]job.Job
	executions []job.Execution
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[uuid.UUID]job.Job)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Create(ctx context.Context, req job.NewRequest) (job.Job, error) {
	j := job.New(req)
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
	return j, nil
}

func (m *Memory) ClaimOne(ctx context.Context, types []string, maxRetries int) (job.Job, error) {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var best *job.Job
	for _, j := range m.jobs {
		j := j
		if !allowed[j.Type] || !j.Ready(now) || j.RetryCount >= maxRetries {
			continue
		}
		if best == nil || j.CreatedAt.Before(best.CreatedAt) {
			jCopy := j
			best = &jCopy
		}
	}
	if best == nil {
		return job.Job{}, job.ErrNotFound
	}
	best.Status = job.StatusRunning
	best.UpdatedAt = now
	m.jobs[best.ID] = *best
	return *best, nil
}

func (m *Memory) RecordExecution(ctx context.Context, exec job.Execution) error {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	m.mu.Lock()
	m.executions = append(m.executions, exec)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Executions(jobID uuid.UUID) []job.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Execution
	for _, e := range m.executions {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) transition(id uuid.UUID, fn func(*job.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	fn(&j)
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return nil
}

func (m *Memory) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, func(j *job.Job) { j.Status = job.StatusCompleted })
}

func (m *Memory) MarkFailedPermanent(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, func(j *job.Job) { j.Status = job.StatusFailed })
}

func (m *Memory) MarkPendingRetry(ctx context.Context, id uuid.UUID, nextExecutionAt time.Time, retryCount int) error {
	return m.transition(id, func(j *job.Job) {
		j.Status = job.StatusPendingRetry
		j.RetryCount = retryCount
		next := nextExecutionAt
		j.NextExecutionAt = &next
	})
}

func (m *Memory) FindStuckRunning(ctx context.Context, types []string, cutoff time.Time) ([]job.Job, error) {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []job.Job
	for _, j := range m.jobs {
		if j.Status == job.StatusRunning && allowed[j.Type] && !j.UpdatedAt.After(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	return out, nil
}

func (m *Memory) ResetToPending(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, func(j *job.Job) { j.Status = job.StatusPending })
}

func (m *Memory) DeleteBatch(ctx context.Context, statuses []job.Status, cutoff time.Time, batchSize int) (int64, error) {
	allowed := make(map[job.Status]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []job.Job
	for _, j := range m.jobs {
		if allowed[j.Status] && !j.CreatedAt.After(cutoff) {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}
	for _, j := range candidates {
		delete(m.jobs, j.ID)
	}
	return int64(len(candidates)), nil
}

func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	return j, nil
}

func (m *Memory) ListCursor(ctx context.Context, status *job.Status, limit int, cursor *Cursor) ([]job.Job, *Cursor, bool, error) {
	m.mu.Lock()
	var all []job.Job
	for _, j := range m.jobs {
		if status == nil || j.Status == *status {
			all = append(all, j)
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, k int) bool {
		if all[i].UpdatedAt.Equal(all[k].UpdatedAt) {
			return all[i].ID.String() > all[k].ID.String()
		}
		return all[i].UpdatedAt.After(all[k].UpdatedAt)
	})

	if cursor != nil {
		for i, j := range all {
			if j.UpdatedAt.Before(cursor.UpdatedAt) || (j.UpdatedAt.Equal(cursor.UpdatedAt) && j.ID.String() < cursor.ID.String()) {
				all = all[i:]
				goto filtered
			}
		}
		all = nil
	}
filtered:

	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}
	var next *Cursor
	if hasMore && len(all) > 0 {
		last := all[len(all)-1]
		next = &Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}
	return all, next, hasMore, nil
}

func (m *Memory) Retry(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status != job.StatusFailed {
		return ErrNotFailed
	}
	j.Status = job.StatusPending
	j.RetryCount = 0
	j.NextExecutionAt = nil
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return nil
}
