// Package hooks is a typed event-dispatch table: each event name maps to an
// ordered list of named handlers.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

type Handler[T any] func(ctx context.Context, payload T) error

type entry[T any] struct {
	name string
	fn   Handler[T]
}

// Registry is safe for concurrent use. Handlers run in registration order on
// the caller's goroutine.
type Registry[T any] struct {
	mu       sync.RWMutex
	handlers map[string][]entry[T]
}

func New[T any]() *Registry[T] {
	return &Registry[T]{handlers: map[string][]entry[T]{}}
}

// On appends a handler for event. Registering a name twice for the same
// event replaces the earlier handler in place.
func (r *Registry[T]) On(event, name string, fn Handler[T]) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[event]
	for i := range list {
		if list[i].name == name {
			list[i].fn = fn
			return
		}
	}
	r.handlers[event] = append(list, entry[T]{name: name, fn: fn})
}

// Off removes a named handler. It reports whether one was removed.
func (r *Registry[T]) Off(event, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[event]
	for i := range list {
		if list[i].name == name {
			r.handlers[event] = append(list[:i:i], list[i+1:]...)
			if len(r.handlers[event]) == 0 {
				delete(r.handlers, event)
			}
			return true
		}
	}
	return false
}

// Handlers lists handler names for event in run order.
func (r *Registry[T]) Handlers(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers[event]))
	for _, e := range r.handlers[event] {
		out = append(out, e.name)
	}
	return out
}

// Emit calls every handler for event. A failing or panicking handler does
// not stop the rest; all errors are joined.
func (r *Registry[T]) Emit(ctx context.Context, event string, payload T) error {
	r.mu.RLock()
	list := append([]entry[T](nil), r.handlers[event]...)
	r.mu.RUnlock()

	var errs []error
	for _, e := range list {
		if err := call(ctx, e, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", event, e.name, err))
		}
	}
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, e entry[T], payload T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return e.fn(ctx, payload)
}

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", p.Value) }
