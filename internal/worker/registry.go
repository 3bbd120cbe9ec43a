// Package worker runs the lease/dispatch/record loop over the scheduler.
// One producer leases tasks and hands them to a bounded set of executors;
// handlers are resolved from a closed registry by task kind.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mailworks/mailworks/internal/types"
)

// Handler executes one task kind. Implementations decode and validate their
// own payload; invalid payloads must be returned as fatal (taskerr.Validation)
// so the scheduler skips retries. Handlers must be idempotent under replay.
type Handler interface {
	Kind() types.TaskKind
	Handle(ctx context.Context, task *types.Task) error
}

// Registry maps task kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.TaskKind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.TaskKind]Handler)}
}

// Register adds a handler. Registering a duplicate or unknown kind is a
// programming error surfaced at startup.
func (r *Registry) Register(h Handler) error {
	kind := h.Kind()
	if !kind.Valid() {
		return fmt.Errorf("worker: register unknown kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("worker: handler for %q already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// MustRegister panics on registration failure. Used during startup wiring.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for a kind, or false when none is registered.
func (r *Registry) Resolve(kind types.TaskKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []types.TaskKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.TaskKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
