package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Class
	}{
		{"business", Business(errors.New("insufficient stock")), ClassBusiness},
		{"application", Application(errors.New("invalid state")), ClassApplication},
		{"infra", Infra(errors.New("connection refused")), ClassInfrastructure},
		{"wrapped business", fmt.Errorf("handler: %w", Business(errors.New("no stock"))), ClassBusiness},
		{"untagged defaults to infra", errors.New("boom"), ClassInfrastructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"business never retries", Business(errors.New("insufficient stock")), false},
		{"application defaults to no retry", Application(errors.New("bad input")), false},
		{"application may opt in", ApplicationRetryable(errors.New("version conflict")), true},
		{"infra retries", Infra(errors.New("timeout")), true},
		{"untagged retries", errors.New("boom"), true},
		{"wrapped business never retries", fmt.Errorf("order: %w", Businessf("order %d closed", 7)), false},
		{"context canceled retries", context.Canceled, true},
		{"deadline exceeded retries", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err); got != tt.expected {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFaultUnwrap(t *testing.T) {
	base := errors.New("root cause")
	f := Infra(base)
	if !errors.Is(f, base) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
}
