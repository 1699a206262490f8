package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreflow/backbone/internal/domain/job"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFailed is returned by Postgres.Retry when the target job is not
// currently in the Failed state.
var ErrNotFailed = errors.New("job is not failed")

// Postgres is the pgx-backed Store implementation; every method wraps its
// query in prom.ObserveDB so DB latency/error metrics stay in one place.
type Postgres struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPostgres(pool *pgxpool.Pool, prom *observability.Prom) *Postgres {
	return &Postgres{pool: pool, prom: prom}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) observe(op string, fn func() error) error {
	if s.prom != nil {
		return s.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func (s *Postgres) Create(ctx context.Context, req job.NewRequest) (job.Job, error) {
	j := job.New(req)
	err := s.observe("jobs.create", func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO job (id, created_at, updated_at, type, arguments, status, retry_count, next_execution_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, pgUUID(j.ID), j.CreatedAt, j.UpdatedAt, j.Type, j.Arguments, string(j.Status), j.RetryCount, j.NextExecutionAt)
		return err
	})
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

const jobColumns = `id, created_at, updated_at, type, arguments, status, retry_count, next_execution_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var id pgtype.UUID
	var status string
	err := row.Scan(&id, &j.CreatedAt, &j.UpdatedAt, &j.Type, &j.Arguments, &status, &j.RetryCount, &j.NextExecutionAt)
	if err != nil {
		return job.Job{}, err
	}
	j.ID = uuid.UUID(id.Bytes)
	j.Status = job.Status(status)
	return j, nil
}

// ClaimOne uses a CTE so the row selection and the Running transition are
// one statement: a plain FOR UPDATE serializes concurrent claimants on the
// oldest eligible row instead of letting a racing transaction skip past it,
// so jobs are claimed in strict FIFO order.
func (s *Postgres) ClaimOne(ctx context.Context, types []string, maxRetries int) (job.Job, error) {
	var j job.Job
	err := s.observe("jobs.claim_one", func() error {
		row := s.pool.QueryRow(ctx, `
			WITH next AS (
				SELECT id FROM job
				WHERE type = ANY($1)
				  AND status IN ('pending', 'pending_retry')
				  AND retry_count < $2
				  AND (next_execution_at IS NULL OR next_execution_at <= NOW())
				ORDER BY created_at ASC
				FOR UPDATE
				LIMIT 1
			)
			UPDATE job
			SET status = 'running', updated_at = NOW()
			WHERE id = (SELECT id FROM next)
			RETURNING `+jobColumns, types, maxRetries)
		var scanErr error
		j, scanErr = scanJob(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (s *Postgres) RecordExecution(ctx context.Context, exec job.Execution) error {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	return s.observe("job_executions.create", func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO job_execution (id, job_id, result, started_at, finished_at, execution_time_ms, failure_reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, pgUUID(exec.ID), pgUUID(exec.JobID), string(exec.Result), exec.StartedAt, exec.FinishedAt, exec.ExecutionTimeMs, exec.FailureReason, exec.CreatedAt)
		return err
	})
}

func (s *Postgres) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return s.updateStatus(ctx, "jobs.mark_completed", id, `
		UPDATE job SET status = 'completed', updated_at = NOW() WHERE id = $1
	`)
}

func (s *Postgres) MarkFailedPermanent(ctx context.Context, id uuid.UUID) error {
	return s.updateStatus(ctx, "jobs.mark_failed", id, `
		UPDATE job SET status = 'failed', updated_at = NOW() WHERE id = $1
	`)
}

func (s *Postgres) updateStatus(ctx context.Context, op string, id uuid.UUID, sql string) error {
	var tag pgconn.CommandTag
	err := s.observe(op, func() error {
		var execErr error
		tag, execErr = s.pool.Exec(ctx, sql, pgUUID(id))
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkPendingRetry(ctx context.Context, id uuid.UUID, nextExecutionAt time.Time, retryCount int) error {
	var tag pgconn.CommandTag
	err := s.observe("jobs.mark_pending_retry", func() error {
		var execErr error
		tag, execErr = s.pool.Exec(ctx, `
			UPDATE job
			SET status = 'pending_retry', retry_count = $2, next_execution_at = $3, updated_at = NOW()
			WHERE id = $1
		`, pgUUID(id), retryCount, nextExecutionAt)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (s *Postgres) FindStuckRunning(ctx context.Context, types []string, cutoff time.Time) ([]job.Job, error) {
	var out []job.Job
	err := s.observe("jobs.find_stuck_running", func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+jobColumns+`
			FROM job
			WHERE status = 'running' AND type = ANY($1) AND updated_at <= $2
			ORDER BY updated_at ASC
		`, types, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, scanErr := scanJob(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Postgres) ResetToPending(ctx context.Context, id uuid.UUID) error {
	return s.updateStatus(ctx, "jobs.reset_to_pending", id, `
		UPDATE job SET status = 'pending', updated_at = NOW() WHERE id = $1
	`)
}

func (s *Postgres) DeleteBatch(ctx context.Context, statuses []job.Status, cutoff time.Time, batchSize int) (int64, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}
	var tag pgconn.CommandTag
	err := s.observe("jobs.delete_batch", func() error {
		var execErr error
		tag, execErr = s.pool.Exec(ctx, `
			WITH victims AS (
				SELECT id FROM job
				WHERE status = ANY($1) AND created_at <= $2
				ORDER BY created_at ASC
				LIMIT $3
			)
			DELETE FROM job WHERE id IN (SELECT id FROM victims)
		`, statusStrs, cutoff, batchSize)
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) GetByID(ctx context.Context, id uuid.UUID) (job.Job, error) {
	var j job.Job
	err := s.observe("jobs.get_by_id", func() error {
		row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job WHERE id = $1`, pgUUID(id))
		var scanErr error
		j, scanErr = scanJob(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (s *Postgres) ListCursor(ctx context.Context, status *job.Status, limit int, cursor *Cursor) ([]job.Job, *Cursor, bool, error) {
	conds := []string{}
	args := []any{}
	pos := 1

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(*status))
		pos++
	}
	if cursor != nil {
		conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", pos, pos+1))
		args = append(args, cursor.UpdatedAt, pgUUID(cursor.ID))
		pos += 2
	}

	q := `SELECT ` + jobColumns + ` FROM job`
	if len(conds) > 0 {
		q += " WHERE "
		for i, c := range conds {
			if i > 0 {
				q += " AND "
			}
			q += c
		}
	}
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", pos)
	args = append(args, limit+1)

	var out []job.Job
	err := s.observe("jobs.list_cursor", func() error {
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			j, scanErr := scanJob(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	var next *Cursor
	if hasMore {
		last := out[len(out)-1]
		next = &Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}
	return out, next, hasMore, nil
}

func (s *Postgres) Retry(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.observe("jobs.retry.check_status", func() error {
		return s.pool.QueryRow(ctx, `SELECT status FROM job WHERE id = $1`, pgUUID(id)).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrNotFound
		}
		return err
	}
	if job.Status(status) != job.StatusFailed {
		return ErrNotFailed
	}

	return s.observe("jobs.retry.requeue", func() error {
		_, err := s.pool.Exec(ctx, `
			UPDATE job
			SET status = 'pending', retry_count = 0, next_execution_at = NULL, updated_at = NOW()
			WHERE id = $1
		`, pgUUID(id))
		return err
	})
}
