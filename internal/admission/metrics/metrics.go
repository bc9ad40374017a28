// Package metrics exposes Prometheus collectors for admission control.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejections *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signgw_admission_rejections_total",
			Help: "Requests rejected by admission control, by scope.",
		}, []string{"scope"}),
	}
}

func (m *Metrics) RecordRejection(scope string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(scope).Inc()
}
