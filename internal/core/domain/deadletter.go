package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterReason records why a job was taken out of circulation.
type DeadLetterReason string

const (
	DeadLetterReasonException      DeadLetterReason = "exception"
	DeadLetterReasonMaxRetries     DeadLetterReason = "max_retries"
	DeadLetterReasonInvalidPayload DeadLetterReason = "invalid_payload"
	DeadLetterReasonCircuitOpen    DeadLetterReason = "circuit_open"
)

// DeadLetterStatus tracks the operator-facing lifecycle of an entry.
type DeadLetterStatus string

const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"
	DeadLetterStatusReplayed  DeadLetterStatus = "replayed"
	DeadLetterStatusDismissed DeadLetterStatus = "dismissed"
)

// DeadLetterEntry is a terminally-failed job kept for inspection and
// replay. Nothing is silently dropped; entries stay until dismissed or
// aged out.
type DeadLetterEntry struct {
	ID           uuid.UUID
	Hook         string
	Args         map[string]any
	Reason       DeadLetterReason
	ErrorMessage string
	Attempts     int
	Priority     Priority
	Status       DeadLetterStatus
	CreatedAt    time.Time
	ReplayedAt   *time.Time
	DismissedAt  *time.Time
}
