package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// DeadLetterRepo archives terminally-failed jobs.
type DeadLetterRepo struct {
	db *DB
}

func NewDeadLetterRepo(db *DB) *DeadLetterRepo { return &DeadLetterRepo{db: db} }

func (r *DeadLetterRepo) Add(ctx context.Context, e *domain.DeadLetterEntry) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	query := `
		INSERT INTO dead_letter_entries (id, hook, args, reason, error_message, attempts, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Hook, args, string(e.Reason), e.ErrorMessage, e.Attempts, int(e.Priority), e.CreatedAt)
	return err
}

func (r *DeadLetterRepo) Get(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, hook, args, reason, error_message, attempts, priority, status, created_at, replayed_at, dismissed_at
		FROM dead_letter_entries WHERE id = $1
	`, id)
	entry, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (r *DeadLetterRepo) GetPending(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hook, args, reason, error_message, attempts, priority, status, created_at, replayed_at, dismissed_at
		FROM dead_letter_entries WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkReplayed flips pending -> replayed; a replayed or dismissed entry
// is left alone, which is what makes the operation idempotent.
func (r *DeadLetterRepo) MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE dead_letter_entries SET status = 'replayed', replayed_at = $2 WHERE id = $1 AND status = 'pending'", id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *DeadLetterRepo) MarkDismissed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE dead_letter_entries SET status = 'dismissed', dismissed_at = $2 WHERE id = $1 AND status = 'pending'", id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteFinishedBefore prunes replayed and dismissed entries whose
// disposition is older than the cutoff. Age counts from the replay or
// dismissal, not from when the job first dead-lettered.
func (r *DeadLetterRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM dead_letter_entries WHERE status IN ('replayed', 'dismissed') AND COALESCE(replayed_at, dismissed_at) < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanDeadLetter(row rowScanner) (*domain.DeadLetterEntry, error) {
	var (
		entry       domain.DeadLetterEntry
		args        []byte
		reason      string
		priority    int
		status      string
		replayedAt  sql.NullTime
		dismissedAt sql.NullTime
	)
	if err := row.Scan(&entry.ID, &entry.Hook, &args, &reason, &entry.ErrorMessage,
		&entry.Attempts, &priority, &status, &entry.CreatedAt, &replayedAt, &dismissedAt); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &entry.Args); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}
	entry.Reason = domain.DeadLetterReason(reason)
	entry.Priority = domain.Priority(priority)
	entry.Status = domain.DeadLetterStatus(status)
	if replayedAt.Valid {
		t := replayedAt.Time
		entry.ReplayedAt = &t
	}
	if dismissedAt.Valid {
		t := dismissedAt.Time
		entry.DismissedAt = &t
	}
	return &entry, nil
}
