package provider

import (
	"fmt"
	"log/slog"

	"orbitsync/internal/models"
)

// Factory builds an adapter for one configured provider instance.
type Factory func(providerID string, config map[string]string, logger *slog.Logger) (Adapter, error)

// Registry maps provider types to adapter factories. It is populated once at
// startup; lookups after that are read-only.
type Registry struct {
	factories map[models.ProviderType]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.ProviderType]Factory)}
}

// Register installs a factory for a provider type, replacing any previous one.
func (r *Registry) Register(t models.ProviderType, f Factory) {
	r.factories[t] = f
}

// New builds an adapter for the given provider type and instance config.
func (r *Registry) New(t models.ProviderType, providerID string, config map[string]string, logger *slog.Logger) (Adapter, error) {
	factory, ok := r.factories[t]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider type %q", t)
	}
	return factory(providerID, config, logger)
}

// Types returns the registered provider types.
func (r *Registry) Types() []models.ProviderType {
	types := make([]models.ProviderType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
