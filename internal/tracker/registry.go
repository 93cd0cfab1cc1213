package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a configured tracker instance.
type Factory func(ctx context.Context, cfg *Config) (Tracker, error)

// Registry manages registered tracker plugins. Adapters register
// themselves at init time and the registry hands out instances by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// globalRegistry is the default registry used by Register and New.
var globalRegistry = &Registry{
	factories: make(map[string]Factory),
}

// Register adds a tracker factory to the global registry. Typically
// called from adapter init() functions; the name should be lowercase.
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// List returns the names of all registered trackers.
func List() []string {
	return globalRegistry.List()
}

// New creates a configured instance of the named tracker.
func New(ctx context.Context, name string, cfg *Config) (Tracker, error) {
	return globalRegistry.New(ctx, name, cfg)
}

// Register adds a tracker factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// List returns the registered tracker names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a configured instance of the named tracker.
func (r *Registry) New(ctx context.Context, name string, cfg *Config) (Tracker, error) {
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("unknown tracker %q (available: %v)", name, r.List())
	}
	return factory(ctx, cfg)
}

// IsRegistered checks whether a tracker name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Clear removes all registered trackers. Used primarily for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]Factory)
}
