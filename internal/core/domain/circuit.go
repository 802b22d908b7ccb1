package domain

import "time"

// CircuitStatus is the breaker state machine position for a dependency.
type CircuitStatus string

const (
	CircuitClosed   CircuitStatus = "closed"
	CircuitOpen     CircuitStatus = "open"
	CircuitHalfOpen CircuitStatus = "half_open"
)

// CircuitState is one row per dependency name. Only one state is active
// per dependency at a time.
type CircuitState struct {
	Name      string
	State     CircuitStatus
	Failures  int
	Successes int
	OpenedAt  *time.Time
	UpdatedAt time.Time
}
