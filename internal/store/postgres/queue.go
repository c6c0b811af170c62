package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, job_type, payload, status, attempts, max_attempts, run_after, locked_at, locked_by, last_error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job     store.Job
		payload []byte
	)
	err := row.Scan(
		&job.ID, &job.JobType, &payload, &job.Status,
		&job.Attempts, &job.MaxAttempts, &job.RunAfter,
		&job.LockedAt, &job.LockedBy, &job.LastError, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}

// Enqueue inserts a new PENDING job.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = store.DefaultMaxAttempts
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = time.Now().UTC()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if len(job.Payload) == 0 {
		job.Payload = []byte(`{}`)
	}
	job.Status = store.JobStatusPending

	query := `
		INSERT INTO jobs (id, job_type, payload, status, attempts, max_attempts, run_after, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
	`

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		job.ID, job.JobType, []byte(job.Payload), job.Status,
		job.MaxAttempts, job.RunAfter, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", job.JobType, err)
	}
	return nil
}

// FetchEligible returns up to limit claimable jobs, oldest first.
// It does not lock anything; Claim arbitrates ownership.
func (s *Store) FetchEligible(ctx context.Context, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'PENDING'
		  AND locked_at IS NULL
		  AND run_after <= NOW()
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch eligible jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("fetch eligible scan: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch eligible rows: %w", err)
	}

	return jobs, nil
}

// Claim is the compare-and-swap that grants a worker exclusive ownership.
func (s *Store) Claim(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET locked_at = NOW(), locked_by = $2
		WHERE id = $1
		  AND locked_at IS NULL
		  AND status = 'PENDING'
	`, jobID, workerID)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", jobID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	return affected == 1, nil
}

// Complete marks a claimed job as done.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'COMPLETED', last_error = NULL
		WHERE id = $1 AND locked_by = $2 AND status = 'PENDING'
	`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return expectOneRow(res, store.ErrLockLost)
}

// Fail records a failed attempt in a single statement so the attempt counter,
// terminal transition and unlock can never diverge.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string, backoff time.Duration) (store.JobStatus, int, error) {
	var (
		status   store.JobStatus
		attempts int
	)

	err := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET attempts   = attempts + 1,
		    last_error = $3,
		    status     = CASE WHEN attempts + 1 >= max_attempts THEN 'FAILED' ELSE 'PENDING' END,
		    locked_at  = NULL,
		    locked_by  = NULL,
		    run_after  = CASE
		                     WHEN attempts + 1 < max_attempts AND $4::float8 > 0
		                     THEN NOW() + ($4::float8 * INTERVAL '1 second')
		                     ELSE run_after
		                 END
		WHERE id = $1 AND locked_by = $2 AND status = 'PENDING'
		RETURNING status, attempts
	`, jobID, workerID, errMsg, backoff.Seconds()).Scan(&status, &attempts)
	if err != nil {
		if isNoRows(err) {
			return "", 0, store.ErrLockLost
		}
		return "", 0, fmt.Errorf("fail job %s: %w", jobID, err)
	}

	return status, attempts, nil
}

// Retry resurrects a FAILED job and makes it immediately eligible.
func (s *Store) Retry(ctx context.Context, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'PENDING',
		    attempts = 0,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    run_after = NOW()
		WHERE id = $1 AND status = 'FAILED'
	`, jobID)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", jobID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("retry job %s: %w", jobID, err)
	}
	if !exists {
		return store.ErrJobNotFound
	}
	return store.ErrJobNotFailed
}

// GetJob returns a job by its ID.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status and type.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, error) {
	var (
		where []string
		args  []any
	)

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.JobType != "" {
		args = append(args, filter.JobType)
		where = append(where, fmt.Sprintf("job_type = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []store.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs scan: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountPending tracks the backlog for the queue depth gauge.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'PENDING'`).Scan(&count)
	return count, err
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffecter, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
