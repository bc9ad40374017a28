// Package metrics exposes Prometheus collectors for the signing lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Started  *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
	Duration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Started: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_requests_started_total",
			Help: "Signature requests created, by admission mode.",
		}, []string{"mode"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_request_outcomes_total",
			Help: "Terminal signature request outcomes.",
		}, []string{"outcome"}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signgw_signing_duration_seconds",
			Help:    "Time from request creation to successful signature.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) RecordStarted(degraded bool) {
	if m == nil {
		return
	}
	mode := "normal"
	if degraded {
		mode = "degraded"
	}
	m.Started.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSigningDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.Duration.Observe(d.Seconds())
}
