package postgres

import (
	"context"
	"time"
)

// IdempotencyRepo backs first-writer-wins claims with a single
// insert-or-reclaim statement.
type IdempotencyRepo struct {
	db *DB
}

func NewIdempotencyRepo(db *DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

// Claim wins either by inserting a fresh row or by taking over an
// expired one. Both paths are one atomic statement: the second claimant
// for a live key gets zero rows back.
func (r *IdempotencyRepo) Claim(ctx context.Context, id, scope string, now, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO idempotency_claims (id, scope, processed_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, scope) DO UPDATE
			SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at
			WHERE idempotency_claims.expires_at <= $3
		RETURNING id
	`
	var claimed string
	err := r.db.QueryRowContext(ctx, query, id, scope, now, expiresAt).Scan(&claimed)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM idempotency_claims WHERE expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
