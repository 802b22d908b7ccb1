package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// CircuitRepo stores one row per dependency. Every transition is a
// single conditional UPDATE so concurrent executors agree on exactly
// one active state.
type CircuitRepo struct {
	db *DB
}

func NewCircuitRepo(db *DB) *CircuitRepo { return &CircuitRepo{db: db} }

func (r *CircuitRepo) Ensure(ctx context.Context, name string) error {
	query := `
		INSERT INTO circuit_states (name, state, failures, successes, updated_at)
		VALUES ($1, 'closed', 0, 0, NOW())
		ON CONFLICT (name) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, name)
	return err
}

func (r *CircuitRepo) Get(ctx context.Context, name string) (*domain.CircuitState, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT name, state, failures, successes, opened_at, updated_at FROM circuit_states WHERE name = $1", name)
	state, err := scanCircuit(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

func (r *CircuitRepo) List(ctx context.Context) ([]*domain.CircuitState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, state, failures, successes, opened_at, updated_at FROM circuit_states ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.CircuitState
	for rows.Next() {
		state, err := scanCircuit(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// TransitionHalfOpen flips open -> half_open once the cooldown has
// elapsed. The WHERE clause makes exactly one concurrent caller the
// winner; everyone else keeps failing fast.
func (r *CircuitRepo) TransitionHalfOpen(ctx context.Context, name string, openedBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE circuit_states SET state = 'half_open', updated_at = NOW()
		WHERE name = $1 AND state = 'open' AND opened_at <= $2
	`, name, openedBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordFailure bumps the failure count, opening the circuit when the
// threshold is reached or when a half-open trial fails.
func (r *CircuitRepo) RecordFailure(ctx context.Context, name string, threshold int, now time.Time) (*domain.CircuitState, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE circuit_states SET
			failures = failures + 1,
			successes = 0,
			opened_at = CASE WHEN state = 'half_open' OR failures + 1 >= $2 THEN $3 ELSE opened_at END,
			state = CASE WHEN state = 'half_open' OR failures + 1 >= $2 THEN 'open' ELSE state END,
			updated_at = $3
		WHERE name = $1
		RETURNING name, state, failures, successes, opened_at, updated_at
	`, name, threshold, now)
	return scanCircuit(row)
}

// RecordSuccess resets counters and closes the circuit. A success in
// closed state also clears the consecutive-failure count.
func (r *CircuitRepo) RecordSuccess(ctx context.Context, name string, now time.Time) (*domain.CircuitState, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE circuit_states SET
			successes = successes + 1,
			failures = 0,
			state = 'closed',
			opened_at = NULL,
			updated_at = $2
		WHERE name = $1
		RETURNING name, state, failures, successes, opened_at, updated_at
	`, name, now)
	return scanCircuit(row)
}

func (r *CircuitRepo) Reset(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE circuit_states SET state = 'closed', failures = 0, successes = 0, opened_at = NULL, updated_at = NOW()
		WHERE name = $1
	`, name)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCircuit(row rowScanner) (*domain.CircuitState, error) {
	var (
		state    domain.CircuitState
		status   string
		openedAt sql.NullTime
	)
	if err := row.Scan(&state.Name, &status, &state.Failures, &state.Successes, &openedAt, &state.UpdatedAt); err != nil {
		return nil, err
	}
	state.State = domain.CircuitStatus(status)
	if openedAt.Valid {
		t := openedAt.Time
		state.OpenedAt = &t
	}
	return &state, nil
}
