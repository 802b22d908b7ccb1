package domain

import (
	"time"

	"github.com/google/uuid"
)

// Priority determines the execution lane and admission budget of a job.
// Lower values run first and poll fastest.
type Priority int

const (
	PriorityCritical    Priority = 1 // cascading failures, alerts
	PriorityUrgent      Priority = 2 // inbound customer events
	PriorityNormal      Priority = 3 // status/record updates
	PriorityBulk        Priority = 4 // batch/fan-out
	PriorityMaintenance Priority = 5 // cleanup/reconciliation
)

// Priorities lists all lanes in execution order.
var Priorities = []Priority{
	PriorityCritical,
	PriorityUrgent,
	PriorityNormal,
	PriorityBulk,
	PriorityMaintenance,
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityBulk:
		return "bulk"
	case PriorityMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known lane.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityMaintenance
}

// PriorityFromString maps a lane name back to its Priority.
func PriorityFromString(name string) (Priority, bool) {
	for _, p := range Priorities {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}

// EnvelopeVersion is the current wire format discriminator. Payloads
// without a version are treated as legacy and wrapped with defaults on
// read.
const EnvelopeVersion = 2

// Envelope is the versioned wrapper around a caller's job payload.
// Args must contain only serializable values since the envelope crosses
// a persistence boundary.
type Envelope struct {
	Version     int            `json:"v"`
	Priority    Priority       `json:"priority"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Attempt     int            `json:"attempt"`
	Args        map[string]any `json:"args"`
}

// JobStatus tracks a queue row through its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is a durable queue row. Payload holds the marshaled Envelope;
// ArgsDigest is a hash of the caller args used for cancellation matching.
type Job struct {
	ID         uuid.UUID
	Hook       string
	Payload    []byte
	Priority   Priority
	RunAt      time.Time
	Status     JobStatus
	ArgsDigest string
	RecurEvery time.Duration
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
