package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the resilience module.
type Metrics struct {
	BreakerTransitions *prometheus.CounterVec
	ProviderFailures   *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
}

// New creates a Metrics instance with all resilience metrics registered.
func New() *Metrics {
	return &Metrics{
		BreakerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions by provider and transition type",
		}, []string{"provider", "transition"}),

		ProviderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_provider_failures_total",
			Help: "Failed provider dispatch calls by provider",
		}, []string{"provider"}),

		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signgw_provider_dispatch_duration_seconds",
			Help:    "Duration of provider dispatch calls by provider and outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "outcome"}),
	}
}

// RecordBreakerTransition records one circuit state transition.
func (m *Metrics) RecordBreakerTransition(provider, transition string) {
	if m != nil {
		m.BreakerTransitions.WithLabelValues(provider, transition).Inc()
	}
}

// RecordProviderFailure records one failed provider call.
func (m *Metrics) RecordProviderFailure(provider string) {
	if m != nil {
		m.ProviderFailures.WithLabelValues(provider).Inc()
	}
}

// ObserveDispatch records the duration of one provider dispatch.
func (m *Metrics) ObserveDispatch(provider, outcome string, d time.Duration) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(provider, outcome).Observe(d.Seconds())
	}
}
