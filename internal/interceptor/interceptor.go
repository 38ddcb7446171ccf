// Package interceptor lets callers observe or alter each step of a sync
// session. There is one handler slot per argument type: registering a
// handler for a type replaces the previous one (last registration wins).
package interceptor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Handler is invoked synchronously by the orchestrator. A returned error
// aborts the step and fails the session, except for SessionEndArgs.
type Handler[T any] func(ctx context.Context, args *T) error

// Registry holds at most one handler per argument type. It is safe for
// concurrent use; the zero value is ready to use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// On registers fn for argument type T, replacing any existing handler.
func On[T any](r *Registry, fn Handler[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[reflect.Type]any)
	}
	r.handlers[typeOf[T]()] = fn
}

// Off removes the handler for argument type T.
func Off[T any](r *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, typeOf[T]())
}

// Has reports whether a handler is registered for T.
func Has[T any](r *Registry) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[typeOf[T]()]
	return ok
}

// Run invokes the handler registered for T, if any. Handler errors are
// wrapped with the argument type name. When ctx is cancelled while the
// handler runs, Run returns the context error after the handler returns.
// A nil registry runs nothing.
func Run[T any](ctx context.Context, r *Registry, args *T) error {
	if r == nil {
		return ctx.Err()
	}
	r.mu.RLock()
	h, ok := r.handlers[typeOf[T]()]
	r.mu.RUnlock()
	if ok {
		if err := h.(Handler[T])(ctx, args); err != nil {
			return fmt.Errorf("interceptor %s: %w", typeOf[T]().Name(), err)
		}
	}
	return ctx.Err()
}
