package providers

import (
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

// Registry holds the adapters constructed at startup. It is read-only
// after construction, so lookups are safe from concurrent handlers.
type Registry struct {
	adapters map[enums.Provider]Adapter
}

// NewRegistry builds a registry from the enabled adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: make(map[enums.Provider]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		registry.adapters[adapter.ID()] = adapter
	}
	return registry
}

// Get returns the adapter for the provider.
func (r *Registry) Get(provider enums.Provider) (Adapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not enabled").
			WithDetails(map[string]any{"provider": provider.String()})
	}
	return adapter, nil
}

// Has reports whether the provider is enabled.
func (r *Registry) Has(provider enums.Provider) bool {
	_, ok := r.adapters[provider]
	return ok
}

// Len returns the number of enabled adapters.
func (r *Registry) Len() int {
	return len(r.adapters)
}
