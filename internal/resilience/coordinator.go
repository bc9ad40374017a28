package resilience

import (
	"log/slog"

	"sign-gateway/internal/resilience/metrics"
	"sign-gateway/pkg/domain"
)

// Coordinator is the single decision point for whether and how a provider
// call may proceed: one circuit breaker per provider, a shared degraded-mode
// manager, and the static fallback-chain resolver.
type Coordinator struct {
	breakers  map[domain.ProviderType]*CircuitBreaker
	degraded  *DegradedManager
	fallbacks *FallbackResolver
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type CoordinatorOption func(*Coordinator)

func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator builds breakers for every supported channel's provider.
// The sink receives breaker transition events on top of the coordinator's
// own logging and metrics.
func NewCoordinator(breakerCfg BreakerConfig, degradedCfg DegradedConfig, fallbacks *FallbackResolver, sink EventSink, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		breakers:  make(map[domain.ProviderType]*CircuitBreaker),
		degraded:  NewDegradedManager(degradedCfg),
		fallbacks: fallbacks,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, channel := range domain.Channels() {
		provider := channel.Provider()
		c.breakers[provider] = NewCircuitBreaker(provider, breakerCfg, func(event BreakerEvent) {
			c.logger.Warn("circuit breaker transition",
				"provider", event.Provider.String(),
				"transition", string(event.Type),
				"state", string(event.State),
				"failure_rate", event.FailureRate,
				"calls", event.Calls,
			)
			c.metrics.RecordBreakerTransition(event.Provider.String(), string(event.Type))
			if sink != nil {
				sink(event)
			}
		})
	}
	return c
}

// AllowCall reports whether the provider's circuit admits a call right now.
func (c *Coordinator) AllowCall(provider domain.ProviderType) bool {
	return c.breakers[provider].Allow()
}

// RecordSuccess feeds a successful call into the breaker and the degraded
// tracker.
func (c *Coordinator) RecordSuccess(provider domain.ProviderType) {
	c.breakers[provider].RecordSuccess()
	c.degraded.Record(provider, false)
}

// RecordFailure feeds a failed call into the breaker and the degraded
// tracker.
func (c *Coordinator) RecordFailure(provider domain.ProviderType) {
	c.breakers[provider].RecordFailure()
	c.degraded.Record(provider, true)
	c.metrics.RecordProviderFailure(provider.String())
}

// IsSystemDegraded reports system-wide degraded mode; new requests start
// PENDING_DEGRADED and sends are suppressed while it holds.
func (c *Coordinator) IsSystemDegraded() bool {
	return c.degraded.IsSystemDegraded()
}

// IsProviderDegraded reports degradation for a single provider.
func (c *Coordinator) IsProviderDegraded(provider domain.ProviderType) bool {
	return c.degraded.IsProviderDegraded(provider)
}

// Fallback returns the one-hop fallback channel for a primary, if any.
func (c *Coordinator) Fallback(primary domain.ChannelType) (domain.ChannelType, bool) {
	if c.fallbacks == nil {
		return "", false
	}
	return c.fallbacks.Resolve(primary)
}

// ResetBreaker manually closes one provider's circuit. Exposed for
// operational tooling and the degraded-mode recovery sweep.
func (c *Coordinator) ResetBreaker(provider domain.ProviderType) {
	c.breakers[provider].Reset()
}

// BreakerState exposes the current circuit state for health surfaces.
func (c *Coordinator) BreakerState(provider domain.ProviderType) BreakerState {
	return c.breakers[provider].State()
}
