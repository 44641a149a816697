package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

type managerMetrics struct {
	timeouts       *prometheus.CounterVec
	recoveredTotal prometheus.Counter
}

func newManagerMetrics(registry prometheus.Registerer, count func() int) *managerMetrics {
	m := &managerMetrics{
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "session",
			Name:      "timeouts_total",
			Help:      "Sessions destroyed by timeout",
		}, []string{"reason"}),
		recoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "session",
			Name:      "recovered_total",
			Help:      "Sessions loaded from persistence",
		}),
	}
	live := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cts",
		Subsystem: "session",
		Name:      "live",
		Help:      "Sessions cached on this node",
	}, func() float64 { return float64(count()) })

	registry.MustRegister(m.timeouts, m.recoveredTotal, live)
	return m
}

func (m *managerMetrics) timedOut(reason domain.SessionEventType) {
	if m != nil {
		m.timeouts.WithLabelValues(string(reason)).Inc()
	}
}

func (m *managerMetrics) recovered() {
	if m != nil {
		m.recoveredTotal.Inc()
	}
}
