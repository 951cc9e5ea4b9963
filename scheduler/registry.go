package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/systeminit/workspace-engine/executor"
)

// Handler runs one action to completion, returning the executor result
// that becomes the action's /resource payload on success.
//
// Adapted from semantic/actionregistry.go's ActionHandler, retargeted
// from an echo.Context-bound HTTP handler to a scheduler-internal
// function invoked with the action and its component's current
// attribute snapshot as executor arguments.
type Handler func(ctx context.Context, action *Action, args map[string]interface{}) (*executor.Result, error)

// Registry dispatches an action to the handler registered for its kind,
// adapted from semantic/actionregistry.go's ActionRegistry (Register/
// MustRegister/Handle), generalized from HTTP-bound handlers to
// executor.Executor dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry creates an empty action-kind registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds handler to kind. Registering the same kind twice is an
// error, mirroring the teacher's refusal to silently shadow a handler.
func (r *Registry) Register(kind Kind, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for action kind %s already registered", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// MustRegister registers a handler and panics if it fails; for
// initialization code where a duplicate registration is a programming
// error.
func (r *Registry) MustRegister(kind Kind, handler Handler) {
	if err := r.Register(kind, handler); err != nil {
		panic(err)
	}
}

// Handle dispatches action to its kind's handler.
func (r *Registry) Handle(ctx context.Context, action *Action, args map[string]interface{}) (*executor.Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[action.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler registered for action kind %s", action.Kind)
	}
	return handler(ctx, action, args)
}

// HasHandler reports whether kind has a registered handler.
func (r *Registry) HasHandler(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// RegisteredKinds lists every kind with a handler, for diagnostics.
func (r *Registry) RegisteredKinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
