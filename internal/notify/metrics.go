package notify

import "github.com/prometheus/client_golang/prometheus"

type brokerMetrics struct {
	enqueuedTotal  *prometheus.CounterVec
	deliveredTotal prometheus.Counter
	durableTotal   *prometheus.CounterVec
}

func newBrokerMetrics(registry prometheus.Registerer, depth func() int) *brokerMetrics {
	m := &brokerMetrics{
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "notify",
			Name:      "enqueued_total",
			Help:      "Local enqueue attempts by result",
		}, []string{"result"}),
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "notify",
			Name:      "handler_calls_total",
			Help:      "Notifications handed to subscribers",
		}),
		durableTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "notify",
			Name:      "durable_writes_total",
			Help:      "Durable notification writes by result",
		}, []string{"result"}),
	}
	queue := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cts",
		Subsystem: "notify",
		Name:      "queue_depth",
		Help:      "Notifications waiting for delivery",
	}, func() float64 { return float64(depth()) })

	registry.MustRegister(m.enqueuedTotal, m.deliveredTotal, m.durableTotal, queue)
	return m
}

func (m *brokerMetrics) enqueued(result string) {
	if m != nil {
		m.enqueuedTotal.WithLabelValues(result).Inc()
	}
}

func (m *brokerMetrics) delivered(n int) {
	if m != nil {
		m.deliveredTotal.Add(float64(n))
	}
}

func (m *brokerMetrics) durable(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.durableTotal.WithLabelValues(result).Inc()
}
