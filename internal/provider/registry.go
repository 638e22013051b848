package provider

import "fmt"

// Registry is the lookup table of available provider integrations.
// Registration happens once at startup; lookups afterwards are read-only,
// so no locking is needed.
type Registry struct {
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its slug. Registering the same slug twice is
// a programming error and panics at startup.
func (r *Registry) Register(p Provider) {
	slug := p.Info().Slug
	if _, exists := r.providers[slug]; exists {
		panic(fmt.Sprintf("provider %q registered twice", slug))
	}
	r.providers[slug] = p
	r.order = append(r.order, slug)
}

// Get returns the provider for slug, or ErrProviderNotFound.
func (r *Registry) Get(slug string) (Provider, error) {
	p, ok := r.providers[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, slug)
	}
	return p, nil
}

// List returns all registered providers in registration order.
func (r *Registry) List() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.providers[slug])
	}
	return out
}
