package rotation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/rotator/internal/logging"
)

// Factory builds a Strategy.
type Factory func(logger *logging.Logger) (Strategy, error)

// Registry maps strategy names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory under name. Names are unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("strategy name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("strategy '%s' already registered", name)
	}
	r.factories[name] = factory
	r.logger.Debug("Registered rotation strategy: %s", name)
	return nil
}

// Lookup builds a new instance of the named strategy.
func (r *Registry) Lookup(name string) (Strategy, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown rotation strategy: %s", name)
	}

	strategy, err := factory(r.logger)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", name, err)
	}
	return strategy, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
