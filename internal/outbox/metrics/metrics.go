// Package metrics exposes Prometheus collectors for the outbox relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published     *prometheus.CounterVec
	DrainFailures prometheus.Counter
	Backlog       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_outbox_published_total",
			Help: "Events relayed to the broker, by event type.",
		}, []string{"event_type"}),
		DrainFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signgw_outbox_drain_failures_total",
			Help: "Drain cycles aborted by a store or broker failure.",
		}),
		Backlog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "signgw_outbox_backlog",
			Help: "Unpublished events seen at the start of the last drain.",
		}),
	}
}

func (m *Metrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordDrainFailure() {
	if m == nil {
		return
	}
	m.DrainFailures.Inc()
}

func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.Backlog.Set(float64(n))
}
