package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// ErrInvalidPayload marks a payload that cannot be decoded into an
// envelope or a legacy args map.
var ErrInvalidPayload = errors.New("invalid job payload")

// Wrap builds a versioned envelope around caller args.
func Wrap(args map[string]any, p domain.Priority, attempt int, scheduledAt time.Time) domain.Envelope {
	return domain.Envelope{
		Version:     domain.EnvelopeVersion,
		Priority:    p,
		ScheduledAt: scheduledAt,
		Attempt:     attempt,
		Args:        args,
	}
}

// Marshal serializes an envelope for the persistence boundary.
func Marshal(env domain.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Unwrap splits a payload into caller args and metadata. Versioned
// payloads carry their own metadata; anything else is treated as a
// legacy payload, returned whole as args with default metadata. The
// dual path is what lets the wire format evolve without a flag day.
func Unwrap(payload []byte) (map[string]any, domain.Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, domain.Envelope{}, ErrInvalidPayload
	}

	if raw, ok := probe["v"]; ok {
		var version int
		if err := json.Unmarshal(raw, &version); err == nil && version == domain.EnvelopeVersion {
			var env domain.Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				return nil, domain.Envelope{}, ErrInvalidPayload
			}
			if !env.Priority.Valid() || env.Attempt < 1 {
				return nil, domain.Envelope{}, ErrInvalidPayload
			}
			return env.Args, env, nil
		}
	}

	// Legacy payload: the whole object is the args map.
	var args map[string]any
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, domain.Envelope{}, ErrInvalidPayload
	}
	env := domain.Envelope{
		Version:     domain.EnvelopeVersion,
		Priority:    domain.PriorityNormal,
		ScheduledAt: time.Now(),
		Attempt:     1,
		Args:        args,
	}
	return args, env, nil
}

// ArgsDigest hashes caller args for cancellation matching. Go's JSON
// encoder sorts map keys, so equal maps digest equally.
func ArgsDigest(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
