// Package registry holds the set of action handler factories available to
// the dispatcher.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vendelabs/fluxo/pkg/protocol"
)

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]protocol.ActionHandlerFactory
	handlers  map[string]protocol.ActionHandler
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.ActionHandlerFactory),
		handlers:  make(map[string]protocol.ActionHandler),
	}
}

// Register adds a factory. Registering the same ID twice replaces the factory
// and drops the cached handler.
func (r *Registry) Register(factory protocol.ActionHandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
	delete(r.handlers, factory.ID())
}

// Handler returns the shared handler for an action name, creating it on first
// use.
func (r *Registry) Handler(action string) (protocol.ActionHandler, error) {
	r.mu.RLock()
	handler, ok := r.handlers[action]
	r.mu.RUnlock()

	if ok {
		return handler, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if handler, ok := r.handlers[action]; ok {
		return handler, nil
	}

	factory, ok := r.factories[action]
	if !ok {
		return nil, fmt.Errorf("action '%s' not registered", action)
	}

	handler, err := factory.Create(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to create handler for action '%s': %w", action, err)
	}

	r.handlers[action] = handler

	return handler, nil
}

// IsRegistered reports whether an action name has a factory.
func (r *Registry) IsRegistered(action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[action]

	return ok
}

// AvailableActions returns the registered action names in sorted order.
func (r *Registry) AvailableActions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.factories))
	for action := range r.factories {
		actions = append(actions, action)
	}

	sort.Strings(actions)

	return actions
}

// HealthCheck verifies every registered factory can create its handler.
func (r *Registry) HealthCheck(ctx context.Context) error {
	for _, action := range r.AvailableActions() {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := r.Handler(action)
		if err != nil {
			return fmt.Errorf("registry health check failed: %w", err)
		}
	}

	return nil
}
