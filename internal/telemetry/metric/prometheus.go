package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/tokmesh-cts/internal/infra/buildinfo"
)

// Namespace prefixes every metric exported by the server.
const Namespace = "cts"

// Registry holds the process metrics.
type Registry struct {
	reg    *prometheus.Registry
	health *Health
}

// NewRegistry creates a registry with runtime, process and build metrics
// registered. health may be nil.
func NewRegistry(health *Health) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
		buildInfoGauge(),
	)
	if health != nil {
		reg.MustRegister(health)
	}
	return &Registry{reg: reg, health: health}
}

func buildInfoGauge() prometheus.Collector {
	info := buildinfo.Get()
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information of the running binary.",
		ConstLabels: prometheus.Labels{
			"version":    info.Version,
			"commit":     info.Commit,
			"go_version": info.GoVersion,
		},
	})
	g.Set(1)
	return g
}

// Registerer is where components register their collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer exposes the registry for tests and custom exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(r.reg, promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		Registry: r.reg,
	}))
}

// Mux serves /metrics and, when a Health is attached, /healthz.
func (r *Registry) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	if r.health != nil {
		mux.Handle("/healthz", r.health)
	}
	return mux
}
