// Package fault classifies raised failures into one of three layers to
// decide retry eligibility. Business-rule violations are deterministic
// and never retried; application errors default to non-retryable but
// may declare otherwise; infrastructure failures default to retryable.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Class is the failure layer.
type Class int

const (
	ClassBusiness Class = iota + 1
	ClassApplication
	ClassInfrastructure
)

func (c Class) String() string {
	switch c {
	case ClassBusiness:
		return "business"
	case ClassApplication:
		return "application"
	case ClassInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Fault tags an error with its layer and, optionally, an explicit
// retryability override.
type Fault struct {
	Class     Class
	Retryable *bool // nil = use the class default
	Err       error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Class, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Business wraps a deterministic business-rule violation. Never retried.
func Business(err error) error {
	return &Fault{Class: ClassBusiness, Err: err}
}

// Businessf is Business with formatting.
func Businessf(format string, args ...any) error {
	return Business(fmt.Errorf(format, args...))
}

// Application wraps a validation or state-conflict error. Not retried
// by default.
func Application(err error) error {
	return &Fault{Class: ClassApplication, Err: err}
}

// ApplicationRetryable wraps an application error that is known to be
// transient, e.g. a state conflict caused by a race.
func ApplicationRetryable(err error) error {
	t := true
	return &Fault{Class: ClassApplication, Retryable: &t, Err: err}
}

// Infra wraps a network, store or dependency failure. Retried by
// default.
func Infra(err error) error {
	return &Fault{Class: ClassInfrastructure, Err: err}
}

// Infraf is Infra with formatting.
func Infraf(format string, args ...any) error {
	return Infra(fmt.Errorf(format, args...))
}

// Classify returns the layer of err. Untagged errors are treated as
// infrastructure failures: the unknown case must stay retryable or a
// transient blip would be dead-lettered on first sight.
func Classify(err error) Class {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return ClassInfrastructure
}

// ShouldRetry reports whether err is eligible for another attempt.
// An explicit override on the Fault wins over the class default.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// Cancellation usually means the deadline or a shutdown cut the
	// attempt short, not that the work itself is bad; retry it later.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var f *Fault
	if errors.As(err, &f) {
		if f.Retryable != nil {
			return *f.Retryable
		}
		switch f.Class {
		case ClassBusiness:
			return false
		case ClassApplication:
			return false
		default:
			return true
		}
	}
	return true
}
