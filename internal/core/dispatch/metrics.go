package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

type dispatchMetrics struct {
	submittedTotal prometheus.Counter
	completedTotal *prometheus.CounterVec
}

func newDispatchMetrics(registry prometheus.Registerer, d *Dispatcher) *dispatchMetrics {
	m := &dispatchMetrics{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "dispatcher",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted by the dispatcher",
		}),
		completedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "dispatcher",
			Name:      "tasks_completed_total",
			Help:      "Tasks completed by outcome",
		}, []string{"outcome"}),
	}
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cts",
		Subsystem: "dispatcher",
		Name:      "queue_depth",
		Help:      "Tasks waiting for a worker",
	}, func() float64 { return float64(d.queued()) })

	registry.MustRegister(m.submittedTotal, m.completedTotal, depth)
	return m
}

func (m *dispatchMetrics) submitted() {
	if m != nil {
		m.submittedTotal.Inc()
	}
}

func (m *dispatchMetrics) completed(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case domain.IsConflict(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	m.completedTotal.WithLabelValues(outcome).Inc()
}
