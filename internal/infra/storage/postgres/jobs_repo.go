package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// JobRepo is the durable queue table behind the dispatcher.
type JobRepo struct {
	db *DB
}

func NewJobRepo(db *DB) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) Submit(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (id, hook, payload, priority, run_at, status, args_digest, recur_every_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Hook, job.Payload, int(job.Priority), job.RunAt,
		string(job.Status), job.ArgsDigest, int64(job.RecurEvery.Seconds()))
	return err
}

// Claim moves due pending rows to running in a single statement.
// FOR UPDATE SKIP LOCKED guarantees concurrent claimers never receive
// the same row.
func (r *JobRepo) Claim(ctx context.Context, p domain.Priority, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		UPDATE jobs SET status = 'running', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND priority = $1 AND run_at <= $2
			ORDER BY run_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, hook, payload, priority, run_at, status, args_digest, recur_every_seconds, created_at, updated_at
	`
	rows, err := r.db.QueryContext(ctx, query, int(p), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'completed', updated_at = NOW() WHERE id = $1", id)
	return err
}

func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1", id, msg)
	return err
}

func (r *JobRepo) Rearm(ctx context.Context, id uuid.UUID, payload []byte, next time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'pending', payload = $2, run_at = $3, updated_at = NOW() WHERE id = $1", id, payload, next)
	return err
}

// Cancel only touches pending rows; once a callback has started there
// is no preemption.
func (r *JobRepo) Cancel(ctx context.Context, hook, argsDigest string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'cancelled', updated_at = NOW() WHERE hook = $1 AND args_digest = $2 AND status = 'pending'",
		hook, argsDigest)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *JobRepo) CountPending(ctx context.Context, p domain.Priority) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT count(*) FROM jobs WHERE status = 'pending' AND priority = $1", int(p)).Scan(&count)
	return count, err
}

func (r *JobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(rows *sql.Rows) (*domain.Job, error) {
	var (
		job        domain.Job
		priority   int
		status     string
		recurEvery int64
		argsDigest sql.NullString
	)
	if err := rows.Scan(&job.ID, &job.Hook, &job.Payload, &priority, &job.RunAt,
		&status, &argsDigest, &recurEvery, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Priority = domain.Priority(priority)
	job.Status = domain.JobStatus(status)
	job.ArgsDigest = argsDigest.String
	job.RecurEvery = time.Duration(recurEvery) * time.Second
	return &job, nil
}
