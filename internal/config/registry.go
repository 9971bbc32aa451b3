package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lucentaudio/lucent/pkg/engine"
)

// ErrEngineNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested engine name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// EngineFactory constructs an inference engine from its configuration block.
// The context covers connection setup only, not the engine's lifetime.
type EngineFactory func(ctx context.Context, cfg EngineConfig) (engine.Engine, error)

// Registry maps engine names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]EngineFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]EngineFactory),
	}
}

// Register registers an engine factory under name. Subsequent calls with the
// same name overwrite the previous registration.
func (r *Registry) Register(name string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// Create instantiates the engine selected by cfg.Name.
func (r *Registry) Create(ctx context.Context, cfg EngineConfig) (engine.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrEngineNotRegistered, cfg.Name)
	}
	return factory(ctx, cfg)
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
