package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Func is the boundary the scheduler drives: execute one operation kind
// against an opaque payload and produce a value. The core never looks past
// this signature.
type Func func(ctx context.Context, kind string, payload []byte) (any, error)

// Handler executes a single operation kind.
type Handler interface {
	Execute(ctx context.Context, payload []byte) (any, error)
}

// Registry maps operation kinds to handlers and exposes the combined
// dispatch function the scheduler is constructed with.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
}

// Kinds returns the registered operation kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Func returns the dispatch function over the registered handlers.
func (r *Registry) Func() Func {
	return func(ctx context.Context, kind string, payload []byte) (any, error) {
		r.mu.RLock()
		h, ok := r.handlers[kind]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no handler for operation kind %q", kind)
		}
		return h.Execute(ctx, payload)
	}
}
