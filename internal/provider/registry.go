package provider

import (
	"fmt"

	"github.com/mlstack-io/mlstack/internal/stack"
)

// Registry maps resource kinds to the provider responsible for them.
type Registry struct {
	providers map[stack.Kind]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[stack.Kind]Provider)}
}

// Register binds a provider to a resource kind, replacing any previous
// binding.
func (r *Registry) Register(kind stack.Kind, p Provider) {
	r.providers[kind] = p
}

// RegisterAll binds one provider to every supported kind.
func (r *Registry) RegisterAll(p Provider) {
	for _, kind := range stack.Kinds() {
		r.providers[kind] = p
	}
}

// Get returns the provider for a kind.
func (r *Registry) Get(kind stack.Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("no provider registered for kind %q", kind)
	}
	return p, nil
}
