package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/dlq"
	"github.com/vietddude/conveyor/internal/idempotency"
	"github.com/vietddude/conveyor/internal/infra/storage/memory"
	"github.com/vietddude/conveyor/internal/ratelimit"
)

func TestSweepPrunesAgedRows(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewMemoryStorage()
	jobRepo := memory.NewJobRepo(store)
	sagaRepo := memory.NewSagaRepo(store)
	claims := idempotency.NewService(memory.NewIdempotencyRepo(store), 10*time.Millisecond, log)
	limiter := ratelimit.NewLimiter(memory.NewRateLimitRepo(store), map[string]ratelimit.Rule{
		"api": {Limit: 5, Window: 10 * time.Millisecond},
	}, log)
	dead := dlq.NewService(memory.NewDeadLetterRepo(store), nil, log)

	ctx := context.Background()

	// Aged idempotency claim and rate window.
	_, _ = claims.Claim(ctx, "evt-old", "webhook")
	_, _ = limiter.CheckAndHit(ctx, "tenant-1", "api")

	// Finished job old enough to prune, plus a pending one that is not.
	doneJob := &domain.Job{ID: uuid.New(), Hook: "done", Priority: domain.PriorityNormal, Status: domain.JobStatusPending}
	_ = jobRepo.Submit(ctx, doneJob)
	_ = jobRepo.MarkCompleted(ctx, doneJob.ID)
	pendingJob := &domain.Job{ID: uuid.New(), Hook: "pending", Priority: domain.PriorityNormal, Status: domain.JobStatusPending}
	_ = jobRepo.Submit(ctx, pendingJob)

	// Terminal saga.
	_, _ = sagaRepo.Create(ctx, &domain.SagaRecord{SagaID: "s-1", SagaType: "order", State: domain.SagaCompleted})

	// Dismissed dead letter.
	dlID := uuid.New()
	dismissedAt := time.Now()
	_ = memory.NewDeadLetterRepo(store).Add(ctx, &domain.DeadLetterEntry{
		ID: dlID, Hook: "gone", Status: domain.DeadLetterStatusDismissed,
		CreatedAt: dismissedAt, DismissedAt: &dismissedAt,
	})

	time.Sleep(20 * time.Millisecond)

	j := NewJanitor(Config{
		Interval:      time.Minute,
		JobRetention:  time.Millisecond,
		DLQRetention:  time.Millisecond,
		SagaRetention: time.Millisecond,
	}, jobRepo, sagaRepo, claims, limiter, dead, log)
	j.sweep(ctx)

	if _, ok := jobRepo.Get(doneJob.ID); ok {
		t.Error("finished job should be pruned")
	}
	if _, ok := jobRepo.Get(pendingJob.ID); !ok {
		t.Error("pending job must survive")
	}
	if rec, _ := sagaRepo.Get(ctx, "s-1"); rec != nil {
		t.Error("terminal saga should be pruned")
	}
	if e, _ := memory.NewDeadLetterRepo(store).Get(ctx, dlID); e != nil {
		t.Error("dismissed dead letter should be pruned")
	}
	if ok, _ := claims.Claim(ctx, "evt-old", "webhook"); !ok {
		t.Error("expired claim should be gone and reclaimable")
	}
}
