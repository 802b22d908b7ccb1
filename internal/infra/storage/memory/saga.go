package memory

import (
	"context"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// -----------------------------------------------------------------------------
// Saga Repository
// -----------------------------------------------------------------------------

type SagaRepo struct {
	store *MemoryStorage
}

func NewSagaRepo(store *MemoryStorage) *SagaRepo { return &SagaRepo{store: store} }

func (r *SagaRepo) Create(ctx context.Context, rec *domain.SagaRecord) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sagas[rec.SagaID]; ok {
		return false, nil
	}
	c := cloneSaga(rec)
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.store.sagas[rec.SagaID] = c
	return true, nil
}

func (r *SagaRepo) Get(ctx context.Context, sagaID string) (*domain.SagaRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.sagas[sagaID]
	if !ok {
		return nil, nil
	}
	return cloneSaga(rec), nil
}

func (r *SagaRepo) Save(ctx context.Context, rec *domain.SagaRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := cloneSaga(rec)
	if existing, ok := r.store.sagas[rec.SagaID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	c.UpdatedAt = time.Now()
	r.store.sagas[rec.SagaID] = c
	return nil
}

func (r *SagaRepo) Acquire(ctx context.Context, sagaID string) (func(), bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	l, ok := r.store.sagaLock[sagaID]
	if !ok {
		l = &sagaLock{}
		r.store.sagaLock[sagaID] = l
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	release := func() {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		l.held = false
	}
	return release, true, nil
}

func (r *SagaRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, rec := range r.store.sagas {
		if rec.State.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(r.store.sagas, id)
			n++
		}
	}
	return n, nil
}

func cloneSaga(rec *domain.SagaRecord) *domain.SagaRecord {
	c := *rec
	if rec.Context != nil {
		c.Context = make(map[string]any, len(rec.Context))
		for k, v := range rec.Context {
			c.Context[k] = v
		}
	}
	c.Log = append([]domain.SagaLogEntry(nil), rec.Log...)
	return &c
}
