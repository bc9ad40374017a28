package provider

import (
	"context"

	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// Registry is the static set of providers configured at startup. It is
// read-only after construction; lookups need no locking.
type Registry struct {
	providers map[domain.ProviderType]Provider
}

// NewRegistry builds a registry from the given providers. Registering two
// providers for the same slot is a wiring bug and fails loudly.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[domain.ProviderType]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "nil provider")
		}
		if _, exists := r.providers[p.Type()]; exists {
			return nil, dErrors.Newf(dErrors.CodeConflict, "duplicate provider registered for %s", p.Type())
		}
		r.providers[p.Type()] = p
	}
	return r, nil
}

// Get returns the provider for a slot.
func (r *Registry) Get(t domain.ProviderType) (Provider, error) {
	p, ok := r.providers[t]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no provider registered for %s", t)
	}
	return p, nil
}

// ForChannel returns the provider serving a channel.
func (r *Registry) ForChannel(c domain.ChannelType) (Provider, error) {
	return r.Get(c.Provider())
}

// Health probes every registered provider.
func (r *Registry) Health(ctx context.Context) map[domain.ProviderType]HealthStatus {
	out := make(map[domain.ProviderType]HealthStatus, len(r.providers))
	for t, p := range r.providers {
		out[t] = p.CheckHealth(ctx)
	}
	return out
}
