package domain

import "time"

// IdempotencyClaim is a first-writer-wins reservation keyed by
// (id, scope). At most one live claim exists per key; a second claimant
// observes failure and must treat the operation as a duplicate.
type IdempotencyClaim struct {
	ID          string
	Scope       string
	ProcessedAt time.Time
	ExpiresAt   time.Time
}
