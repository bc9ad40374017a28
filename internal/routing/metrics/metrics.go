package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the routing module.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

// New creates a Metrics instance with all routing metrics registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_routing_decisions_total",
			Help: "Total routing decisions by selected channel and default-channel fallback",
		}, []string{"channel", "defaulted"}),
	}
}

// RecordDecision records one routing decision.
func (m *Metrics) RecordDecision(channel string, defaulted bool) {
	if m != nil {
		label := "false"
		if defaulted {
			label = "true"
		}
		m.Decisions.WithLabelValues(channel, label).Inc()
	}
}
