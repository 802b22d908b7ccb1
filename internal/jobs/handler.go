package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Handler is the contract every job callback implements. Process
// receives the unwrapped caller args; everything around it (retry,
// backoff, dead-lettering) is the executor's business.
type Handler interface {
	HookName() string
	Process(ctx context.Context, args map[string]any) error
}

// MaxRetrier lets a handler override the default retry budget.
type MaxRetrier interface {
	MaxRetries() int
}

// DelayPolicy lets a handler override the backoff formula. attempt is
// the attempt that just failed.
type DelayPolicy interface {
	RetryDelay(attempt int) time.Duration
}

// RetryDecider lets a handler override the taxonomy-based retry
// decision for its own errors.
type RetryDecider interface {
	ShouldRetry(err error) bool
}

// Registry maps hook names to handlers. The dispatch entry point looks
// handlers up here when the queue hands it a due job.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same hook twice is a
// programming error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.HookName()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler already registered for hook %q", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler for a hook.
func (r *Registry) Lookup(hook string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[hook]
	return h, ok
}

// Hooks returns all registered hook names, sorted.
func (r *Registry) Hooks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
