package embedded

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// serverMetrics is nil until RegisterMetrics is called; every method is
// safe on a nil receiver.
type serverMetrics struct {
	operations  *prometheus.CounterVec
	connections prometheus.Gauge
	searches    prometheus.Gauge
	lsmSize     prometheus.Gauge
	vlogSize    prometheus.Gauge
	gcRewrites  prometheus.Counter
}

func newServerMetrics(registry prometheus.Registerer, s *Server) *serverMetrics {
	m := &serverMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "directory",
			Name:      "operations_total",
			Help:      "Directory operations by type and result code",
		}, []string{"op", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cts",
			Subsystem: "directory",
			Name:      "connections",
			Help:      "Open embedded directory connections",
		}),
		searches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cts",
			Subsystem: "directory",
			Name:      "persistent_searches",
			Help:      "Active persistent searches",
		}),
		lsmSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cts",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes",
		}),
		vlogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cts",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes",
		}),
		gcRewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cts",
			Subsystem: "badger",
			Name:      "gc_rewrites_total",
			Help:      "Value log files rewritten by garbage collection",
		}),
	}
	registry.MustRegister(m.operations, m.connections, m.searches, m.lsmSize, m.vlogSize, m.gcRewrites)

	s.connsMu.Lock()
	m.connections.Set(float64(len(s.conns)))
	s.connsMu.Unlock()
	return m
}

func (m *serverMetrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, directory.CodeOf(err).String()).Inc()
}

func (m *serverMetrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *serverMetrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *serverMetrics) searchStarted() {
	if m != nil {
		m.searches.Inc()
	}
}

func (m *serverMetrics) searchEnded() {
	if m != nil {
		m.searches.Dec()
	}
}

func (m *serverMetrics) setSizes(lsm, vlog int64) {
	if m == nil {
		return
	}
	m.lsmSize.Set(float64(lsm))
	m.vlogSize.Set(float64(vlog))
}

func (m *serverMetrics) gcCompleted(rewrites int) {
	if m != nil && rewrites > 0 {
		m.gcRewrites.Add(float64(rewrites))
	}
}
