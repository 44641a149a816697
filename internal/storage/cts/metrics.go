package cts

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes recorded by the adapter.
const (
	outcomeSuccess  = "success"
	outcomeNotFound = "not_found"
	outcomeConflict = "conflict"
	outcomeNoop     = "noop"
	outcomeError    = "error"
)

type adapterMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queries    prometheus.Gauge
}

func newAdapterMetrics(registry prometheus.Registerer) *adapterMetrics {
	m := &adapterMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "adapter",
			Name:      "operations_total",
			Help:      "Token store operations by type and outcome",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cts",
			Subsystem: "adapter",
			Name:      "operation_duration_seconds",
			Help:      "Token store operation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		queries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cts",
			Subsystem: "adapter",
			Name:      "continuous_queries",
			Help:      "Active continuous queries",
		}),
	}
	registry.MustRegister(m.operations, m.latency, m.queries)
	return m
}

func (m *adapterMetrics) observe(op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *adapterMetrics) queryStarted() {
	if m != nil {
		m.queries.Inc()
	}
}

func (m *adapterMetrics) queryEnded() {
	if m != nil {
		m.queries.Dec()
	}
}
