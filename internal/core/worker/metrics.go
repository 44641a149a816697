package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// Metrics counts batch outcomes. A nil *Metrics records nothing.
type Metrics struct {
	resolvedTotal *prometheus.CounterVec
}

// NewMetrics registers the expiry metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "expiry",
			Name:      "candidates_total",
			Help:      "Expired session candidates by reason and outcome",
		}, []string{"reason", "outcome"}),
	}
	registry.MustRegister(m.resolvedTotal)
	return m
}

func (m *Metrics) resolved(reason domain.SessionEventType, o outcome) {
	if m == nil {
		return
	}
	label := "failed"
	switch o {
	case succeeded:
		label = "timed_out"
	case conflicted:
		label = "conflict"
	}
	m.resolvedTotal.WithLabelValues(string(reason), label).Inc()
}
