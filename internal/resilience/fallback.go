package resilience

import (
	"sign-gateway/pkg/domain"
	dErrors "sign-gateway/pkg/domainerrors"
)

// FallbackResolver holds the static one-hop mapping from a primary channel
// to its fallback channel. Built once at startup; read-only afterwards.
type FallbackResolver struct {
	chains map[domain.ChannelType]domain.ChannelType
}

// NewFallbackResolver validates the chain configuration. Self-references and
// cycles of any length are rejected: a channel must never fall back to a
// channel that would, by configuration, lead back to it.
func NewFallbackResolver(chains map[domain.ChannelType]domain.ChannelType) (*FallbackResolver, error) {
	for primary, fallback := range chains {
		if !primary.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown fallback primary channel %q", primary)
		}
		if !fallback.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown fallback channel %q for %q", fallback, primary)
		}
	}
	for start := range chains {
		seen := map[domain.ChannelType]bool{start: true}
		current := start
		for {
			next, ok := chains[current]
			if !ok {
				break
			}
			if seen[next] {
				return nil, dErrors.Newf(dErrors.CodeValidation,
					"fallback chain starting at %s forms a cycle via %s", start, next)
			}
			seen[next] = true
			current = next
		}
	}
	copied := make(map[domain.ChannelType]domain.ChannelType, len(chains))
	for k, v := range chains {
		copied[k] = v
	}
	return &FallbackResolver{chains: copied}, nil
}

// ParseFallbackChains builds a resolver from string config, e.g.
// {"SMS": "PUSH", "VOICE": "SMS"}.
func ParseFallbackChains(raw map[string]string) (*FallbackResolver, error) {
	chains := make(map[domain.ChannelType]domain.ChannelType, len(raw))
	for primary, fallback := range raw {
		p, err := domain.ParseChannelType(primary)
		if err != nil {
			return nil, err
		}
		f, err := domain.ParseChannelType(fallback)
		if err != nil {
			return nil, err
		}
		chains[p] = f
	}
	return NewFallbackResolver(chains)
}

// Resolve returns the fallback channel for a primary, if one is configured.
func (r *FallbackResolver) Resolve(primary domain.ChannelType) (domain.ChannelType, bool) {
	fallback, ok := r.chains[primary]
	return fallback, ok
}
