package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// SagaRepo persists saga checkpoints. Run exclusivity uses a session
// advisory lock held on a dedicated connection: try-lock only, so a
// busy saga is reported to the caller instead of blocking it.
type SagaRepo struct {
	db *DB
}

func NewSagaRepo(db *DB) *SagaRepo { return &SagaRepo{db: db} }

func (r *SagaRepo) Create(ctx context.Context, rec *domain.SagaRecord) (bool, error) {
	sagaCtx, sagaLog, err := marshalSaga(rec)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO saga_records (saga_id, saga_type, state, context, log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (saga_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.SagaID, rec.SagaType, string(rec.State), sagaCtx, sagaLog)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SagaRepo) Get(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT saga_id, saga_type, state, context, log, created_at, updated_at
		FROM saga_records WHERE saga_id = $1
	`, sagaID)

	var (
		rec     domain.SagaRecord
		state   string
		sagaCtx []byte
		sagaLog []byte
	)
	err := row.Scan(&rec.SagaID, &rec.SagaType, &state, &sagaCtx, &sagaLog, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	rec.State = domain.SagaState(state)
	if len(sagaCtx) > 0 {
		if err := json.Unmarshal(sagaCtx, &rec.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal saga context: %w", err)
		}
	}
	if len(sagaLog) > 0 {
		if err := json.Unmarshal(sagaLog, &rec.Log); err != nil {
			return nil, fmt.Errorf("failed to unmarshal saga log: %w", err)
		}
	}
	return &rec, nil
}

func (r *SagaRepo) Save(ctx context.Context, rec *domain.SagaRecord) error {
	sagaCtx, sagaLog, err := marshalSaga(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE saga_records SET state = $2, context = $3, log = $4, updated_at = NOW()
		WHERE saga_id = $1
	`, rec.SagaID, string(rec.State), sagaCtx, sagaLog)
	return err
}

// Acquire takes pg_try_advisory_lock on a dedicated connection. The
// lock never waits; ok=false means another process is running the saga.
func (r *SagaRepo) Acquire(ctx context.Context, sagaID string) (func(), bool, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var locked bool
	if err := conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock(hashtext($1))", sagaID).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !locked {
		_ = conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Best effort; closing the connection drops the lock anyway.
		_, _ = conn.ExecContext(context.Background(),
			"SELECT pg_advisory_unlock(hashtext($1))", sagaID)
		_ = conn.Close()
	}
	return release, true, nil
}

func (r *SagaRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM saga_records
		WHERE state IN ('completed', 'failed', 'compensation_failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func marshalSaga(rec *domain.SagaRecord) ([]byte, []byte, error) {
	sagaCtx, err := json.Marshal(rec.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal saga context: %w", err)
	}
	sagaLog, err := json.Marshal(rec.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal saga log: %w", err)
	}
	return sagaCtx, sagaLog, nil
}
