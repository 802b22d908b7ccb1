package postgres

import (
	"context"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// RateLimitRepo backs fixed-window admission control. The increment and
// the limit comparison live in one statement so concurrent hits can
// never over-admit.
type RateLimitRepo struct {
	db *DB
}

func NewRateLimitRepo(db *DB) *RateLimitRepo { return &RateLimitRepo{db: db} }

// Hit upserts the window row and bumps the counter only while it is
// below limit. A denied hit returns zero rows from RETURNING.
func (r *RateLimitRepo) Hit(ctx context.Context, idHash, limitType string, windowStart time.Time, limit int, expiresAt time.Time) (int, bool, error) {
	query := `
		INSERT INTO rate_windows (identifier_hash, limit_type, window_start, request_count, expires_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (identifier_hash, limit_type, window_start) DO UPDATE
			SET request_count = rate_windows.request_count + 1
			WHERE rate_windows.request_count < $5
		RETURNING request_count
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, idHash, limitType, windowStart, expiresAt, limit).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			return limit, false, nil
		}
		return 0, false, err
	}
	return count, true, nil
}

func (r *RateLimitRepo) Count(ctx context.Context, idHash, limitType string, windowStart time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT request_count FROM rate_windows WHERE identifier_hash = $1 AND limit_type = $2 AND window_start = $3",
		idHash, limitType, windowStart).Scan(&count)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// SetBlock installs the sentinel row that short-circuits all checks
// regardless of window state.
func (r *RateLimitRepo) SetBlock(ctx context.Context, idHash string, until time.Time, reason string) error {
	query := `
		INSERT INTO rate_windows (identifier_hash, limit_type, window_start, request_count, expires_at, block_reason)
		VALUES ($1, $2, 'epoch'::timestamptz, 0, $3, $4)
		ON CONFLICT (identifier_hash, limit_type, window_start) DO UPDATE
			SET expires_at = EXCLUDED.expires_at, block_reason = EXCLUDED.block_reason
	`
	_, err := r.db.ExecContext(ctx, query, idHash, domain.BlockLimitType, until, reason)
	return err
}

func (r *RateLimitRepo) ClearBlock(ctx context.Context, idHash string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM rate_windows WHERE identifier_hash = $1 AND limit_type = $2",
		idHash, domain.BlockLimitType)
	return err
}

func (r *RateLimitRepo) BlockedUntil(ctx context.Context, idHash string, now time.Time) (time.Time, bool, error) {
	var until time.Time
	err := r.db.QueryRowContext(ctx,
		"SELECT expires_at FROM rate_windows WHERE identifier_hash = $1 AND limit_type = $2 AND expires_at > $3",
		idHash, domain.BlockLimitType, now).Scan(&until)
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return until, true, nil
}

func (r *RateLimitRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM rate_windows WHERE expires_at <= $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
