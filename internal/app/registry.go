package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"calagg/internal/config"
	"calagg/internal/provider"
)

// Factory creates the providers described by one configuration entry.
// A single entry may expand into several providers (one per account).
type Factory func(ctx context.Context, logger *slog.Logger, cfg config.ProviderConfig, loc *time.Location) ([]provider.Provider, error)

// Registry manages the available provider types.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a provider type to the registry.
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("provider type %s already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Get retrieves a factory by provider type.
func (r *Registry) Get(typ string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, exists := r.factories[typ]
	if !exists {
		return nil, fmt.Errorf("provider type %s not found", typ)
	}
	return f, nil
}

// List returns all registered provider types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
