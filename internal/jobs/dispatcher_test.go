package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/events"
	"github.com/vietddude/conveyor/internal/infra/storage/memory"
)

func TestDispatcherRunsDueJobs(t *testing.T) {
	log := discardLogger()
	store := memory.NewMemoryStorage()
	repo := memory.NewJobRepo(store)
	registry := NewRegistry()
	sink := events.NewLogSink(log)
	sched := NewScheduler(repo, sink, log)
	exec := NewExecutor(registry, sched, repo, &captureDLQ{}, sink, RetryDefaults{}, log)

	done := make(chan string, 4)
	_ = registry.Register(&stubHandler{name: "notify", fn: func(ctx context.Context, args map[string]any) error {
		done <- args["who"].(string)
		return nil
	}})

	overrides := map[domain.Priority]LaneConfig{
		domain.PriorityNormal: {Workers: 2, PollInterval: 20 * time.Millisecond, MinPollInterval: 10 * time.Millisecond, MaxBatch: 5},
	}
	d := NewDispatcher(repo, exec, overrides, log)

	if _, err := sched.Schedule(context.Background(), "notify", map[string]any{"who": "ops"}, domain.PriorityNormal, 0); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	d.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	select {
	case who := <-done:
		if who != "ops" {
			t.Errorf("handler got %q, want ops", who)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job was never executed")
	}
}

func TestDispatcherHonorsRunAt(t *testing.T) {
	log := discardLogger()
	store := memory.NewMemoryStorage()
	repo := memory.NewJobRepo(store)
	registry := NewRegistry()
	sink := events.NewLogSink(log)
	sched := NewScheduler(repo, sink, log)
	exec := NewExecutor(registry, sched, repo, &captureDLQ{}, sink, RetryDefaults{}, log)

	done := make(chan struct{}, 1)
	_ = registry.Register(&stubHandler{name: "later", fn: func(ctx context.Context, args map[string]any) error {
		done <- struct{}{}
		return nil
	}})

	overrides := map[domain.Priority]LaneConfig{
		domain.PriorityNormal: {Workers: 1, PollInterval: 20 * time.Millisecond, MinPollInterval: 10 * time.Millisecond, MaxBatch: 5},
	}
	d := NewDispatcher(repo, exec, overrides, log)

	if _, err := sched.Schedule(context.Background(), "later", nil, domain.PriorityNormal, time.Hour); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	d.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	}()

	select {
	case <-done:
		t.Fatal("job ran an hour early")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSchedulerCancelPendingJobs(t *testing.T) {
	log := discardLogger()
	store := memory.NewMemoryStorage()
	repo := memory.NewJobRepo(store)
	sched := NewScheduler(repo, events.NewLogSink(log), log)

	args := map[string]any{"report": "weekly"}
	if _, err := sched.Schedule(context.Background(), "report", args, domain.PriorityBulk, time.Hour); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if _, err := sched.Schedule(context.Background(), "report", args, domain.PriorityBulk, 2*time.Hour); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	// Same hook, different args: must survive the cancel.
	otherID, err := sched.Schedule(context.Background(), "report", map[string]any{"report": "daily"}, domain.PriorityBulk, time.Hour)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	n, err := sched.Cancel(context.Background(), "report", args)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled = %d, want 2", n)
	}

	other, _ := repo.Get(otherID)
	if other.Status != domain.JobStatusPending {
		t.Errorf("unrelated job status = %v, want pending", other.Status)
	}
}

func TestScheduleRecurringRejectsBadInterval(t *testing.T) {
	log := discardLogger()
	store := memory.NewMemoryStorage()
	sched := NewScheduler(memory.NewJobRepo(store), events.NewLogSink(log), log)

	if _, err := sched.ScheduleRecurring(context.Background(), "tick", nil, 0, domain.PriorityNormal); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := sched.ScheduleRecurring(context.Background(), "tick", nil, -time.Second, domain.PriorityNormal); err == nil {
		t.Error("expected error for negative interval")
	}
}
