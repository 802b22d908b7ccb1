package domain

import "time"

// BlockLimitType is the sentinel limit-type under which an active block
// is stored, independent of window counters.
const BlockLimitType = "blocked"

// RateWindow is one row per (identifierHash, limitType, windowStart).
// Identifiers are stored hashed, never in plaintext.
type RateWindow struct {
	IdentifierHash string
	LimitType      string
	WindowStart    time.Time
	RequestCount   int
	ExpiresAt      time.Time
}

// RateDecision is the outcome of an admission check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
