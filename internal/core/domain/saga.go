package domain

import "time"

// SagaState tracks orchestrator progress. COMPLETED, FAILED and
// COMPENSATION_FAILED are terminal.
type SagaState string

const (
	SagaRunning            SagaState = "running"
	SagaCompleted          SagaState = "completed"
	SagaCompensating       SagaState = "compensating"
	SagaFailed             SagaState = "failed"
	SagaCompensationFailed SagaState = "compensation_failed"
)

// Terminal reports whether the state allows no further transitions.
func (s SagaState) Terminal() bool {
	return s == SagaCompleted || s == SagaFailed || s == SagaCompensationFailed
}

// SagaLogEntry records a single step attempt in execution order.
type SagaLogEntry struct {
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"` // completed | failed | compensated | compensation_failed
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// SagaRecord is the durable checkpoint of a multi-step transaction.
// SagaID is caller-chosen so a saga can be re-invoked with the same id
// without restarting work already checkpointed.
type SagaRecord struct {
	SagaID    string
	SagaType  string
	State     SagaState
	Context   map[string]any
	Log       []SagaLogEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompletedSteps counts actions that finished successfully, which is
// where a resumed saga picks up.
func (r *SagaRecord) CompletedSteps() int {
	n := 0
	for _, e := range r.Log {
		if e.Outcome == "completed" {
			n++
		}
	}
	return n
}
