// Package saga executes ordered multi-step transactions with a
// compensating action per step, for operations spanning subsystems that
// no single atomic commit can cover. Progress is checkpointed after
// every step so a crashed or retried saga resumes forward or rolls
// backward instead of starting over.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/breaker"
	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// ErrBusy means another process currently holds the saga's run lock.
// Callers should retry later rather than wait.
var ErrBusy = errors.New("saga is already running elsewhere")

// Step pairs an action with its compensating action. Action outputs are
// merged into the saga context and visible to later steps. Dependency,
// when set, routes the action through the circuit breaker.
type Step struct {
	Name         string
	Dependency   string
	Action       func(ctx context.Context, sagaCtx map[string]any) (map[string]any, error)
	Compensation func(ctx context.Context, sagaCtx map[string]any) error
}

// Orchestrator runs sagas against the shared store.
type Orchestrator struct {
	repo storage.SagaRepository
	brk  *breaker.Breaker
	log  *slog.Logger
}

func NewOrchestrator(repo storage.SagaRepository, brk *breaker.Breaker, log *slog.Logger) *Orchestrator {
	return &Orchestrator{repo: repo, brk: brk, log: log}
}

// Run executes the saga identified by sagaID. The id is caller-chosen
// so a re-invocation with the same id resumes checkpointed work instead
// of redoing it; an already-terminal saga is returned as-is with no
// error, and callers inspect the record's state.
func (o *Orchestrator) Run(ctx context.Context, sagaID, sagaType string, steps []Step) (*domain.SagaRecord, error) {
	release, ok, err := o.repo.Acquire(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire saga lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrBusy)
	}
	defer release()

	rec, err := o.loadOrCreate(ctx, sagaID, sagaType)
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case domain.SagaCompleted, domain.SagaFailed, domain.SagaCompensationFailed:
		return rec, nil
	case domain.SagaCompensating:
		// Crashed mid-rollback: finish compensating, nothing to run.
		if err := o.compensate(ctx, rec, steps); err != nil {
			return rec, err
		}
		return rec, nil
	}

	// Resume after the last checkpointed step.
	start := rec.CompletedSteps()
	if start > 0 {
		o.log.Info("resuming saga", "saga_id", sagaID, "completed_steps", start)
	}

	for i := start; i < len(steps); i++ {
		step := steps[i]
		outputs, actionErr := o.runAction(ctx, step, rec.Context)
		if actionErr != nil {
			o.log.Warn("saga step failed, compensating",
				"saga_id", sagaID, "step", step.Name, "error", actionErr)
			rec.Log = append(rec.Log, domain.SagaLogEntry{
				Step: step.Name, Outcome: "failed", Error: actionErr.Error(), At: time.Now(),
			})
			rec.State = domain.SagaCompensating
			if err := o.repo.Save(ctx, rec); err != nil {
				return rec, fmt.Errorf("failed to checkpoint saga: %w", err)
			}
			if err := o.compensate(ctx, rec, steps); err != nil {
				return rec, err
			}
			return rec, actionErr
		}

		for k, v := range outputs {
			if rec.Context == nil {
				rec.Context = make(map[string]any)
			}
			rec.Context[k] = v
		}
		rec.Log = append(rec.Log, domain.SagaLogEntry{
			Step: step.Name, Outcome: "completed", At: time.Now(),
		})
		// Checkpoint before moving on; a restart resumes here.
		if err := o.repo.Save(ctx, rec); err != nil {
			return rec, fmt.Errorf("failed to checkpoint saga: %w", err)
		}
	}

	rec.State = domain.SagaCompleted
	if err := o.repo.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("failed to complete saga: %w", err)
	}
	metrics.SagaOutcomes.WithLabelValues(sagaType, string(rec.State)).Inc()
	o.log.Info("saga completed", "saga_id", sagaID, "saga_type", sagaType)
	return rec, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sagaID, sagaType string) (*domain.SagaRecord, error) {
	rec, err := o.repo.Get(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load saga: %w", err)
	}
	if rec != nil {
		return rec, nil
	}

	rec = &domain.SagaRecord{
		SagaID:   sagaID,
		SagaType: sagaType,
		State:    domain.SagaRunning,
		Context:  make(map[string]any),
	}
	created, err := o.repo.Create(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to create saga: %w", err)
	}
	if !created {
		// Lost the insert race; the winner's record is authoritative.
		return o.repo.Get(ctx, sagaID)
	}
	return rec, nil
}

func (o *Orchestrator) runAction(ctx context.Context, step Step, sagaCtx map[string]any) (map[string]any, error) {
	if step.Dependency == "" || o.brk == nil {
		return step.Action(ctx, sagaCtx)
	}
	var outputs map[string]any
	err := o.brk.Execute(ctx, step.Dependency, func() error {
		var actionErr error
		outputs, actionErr = step.Action(ctx, sagaCtx)
		return actionErr
	})
	return outputs, err
}

// compensate unwinds completed steps in reverse order. A failing
// compensation is logged and skipped, not fatal to the rest of the
// unwind; the saga then terminates in COMPENSATION_FAILED instead of
// FAILED so operators can distinguish a clean rollback from a partial
// one.
func (o *Orchestrator) compensate(ctx context.Context, rec *domain.SagaRecord, steps []Step) error {
	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}

	done := make(map[string]bool)
	var completed []string
	for _, e := range rec.Log {
		switch e.Outcome {
		case "completed":
			completed = append(completed, e.Step)
		case "compensated", "compensation_failed":
			done[e.Step] = true
		}
	}

	anyFailed := false
	for i := len(completed) - 1; i >= 0; i-- {
		name := completed[i]
		if done[name] {
			anyFailed = anyFailed || hasOutcome(rec.Log, name, "compensation_failed")
			continue
		}
		step, ok := byName[name]
		if !ok || step.Compensation == nil {
			continue
		}

		if err := step.Compensation(ctx, rec.Context); err != nil {
			anyFailed = true
			o.log.Error("saga compensation failed",
				"saga_id", rec.SagaID, "step", name, "error", err)
			rec.Log = append(rec.Log, domain.SagaLogEntry{
				Step: name, Outcome: "compensation_failed", Error: err.Error(), At: time.Now(),
			})
		} else {
			rec.Log = append(rec.Log, domain.SagaLogEntry{
				Step: name, Outcome: "compensated", At: time.Now(),
			})
		}
		if err := o.repo.Save(ctx, rec); err != nil {
			return fmt.Errorf("failed to checkpoint compensation: %w", err)
		}
	}

	if anyFailed {
		rec.State = domain.SagaCompensationFailed
	} else {
		rec.State = domain.SagaFailed
	}
	if err := o.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to finalize saga: %w", err)
	}
	metrics.SagaOutcomes.WithLabelValues(rec.SagaType, string(rec.State)).Inc()
	return nil
}

func hasOutcome(log []domain.SagaLogEntry, step, outcome string) bool {
	for _, e := range log {
		if e.Step == step && e.Outcome == outcome {
			return true
		}
	}
	return false
}
