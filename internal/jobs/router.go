// Package jobs routes queued work to the handler registered for its type and
// enqueues new work with trace context attached.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownJobType is returned when no handler is registered for a job type.
// It is not retryable in practice; the job exhausts its attempts and lands in FAILED.
var ErrUnknownJobType = errors.New("jobs: unknown job type")

// Handler executes one job payload. Implementations must be idempotent with
// respect to their own side effects since a job may run more than once.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// Router maps job types to handlers. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Router) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Register binds a typed handler. The payload is decoded into T before the
// handler runs; a payload that does not decode fails the job.
func Register[T any](r *Router, jobType string, fn func(ctx context.Context, payload T) error) {
	r.Register(jobType, HandlerFunc(func(ctx context.Context, raw json.RawMessage) error {
		var p T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s payload: %w", jobType, err)
			}
		}
		return fn(ctx, p)
	}))
}

// Dispatch runs the handler registered for jobType.
func (r *Router) Dispatch(ctx context.Context, jobType string, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[jobType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	return h.Handle(ctx, payload)
}

// Types returns the registered job types, sorted.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
