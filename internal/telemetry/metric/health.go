package metric

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Probe reports whether a component can serve requests.
type Probe func(ctx context.Context) error

// Health runs named probes for /healthz and reports them as the
// cts_component_up gauge.
type Health struct {
	timeout time.Duration

	mu     sync.RWMutex
	probes map[string]Probe

	upDesc *prometheus.Desc
}

var _ prometheus.Collector = (*Health)(nil)

// NewHealth creates a probe set; each probe gets timeout to answer.
func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Health{
		timeout: timeout,
		probes:  make(map[string]Probe),
		upDesc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "component_up"),
			"Whether the component's health probe passed at scrape time.",
			[]string{"component"}, nil,
		),
	}
}

// Register adds or replaces a probe.
func (h *Health) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Check runs every probe and returns the failures by component name.
func (h *Health) Check(ctx context.Context) map[string]error {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	probes := make([]Probe, len(names))
	slices.Sort(names)
	for i, name := range names {
		probes[i] = h.probes[name]
	}
	h.mu.RUnlock()

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			results[i] = probes[i](pctx)
		}()
	}
	wg.Wait()

	out := make(map[string]error, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// ServeHTTP answers 200 when every probe passes and 503 otherwise.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Components: make(map[string]string)}
	code := http.StatusOK
	for name, err := range h.Check(r.Context()) {
		if err != nil {
			resp.Status = "degraded"
			resp.Components[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Health) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.upDesc
}

func (h *Health) Collect(ch chan<- prometheus.Metric) {
	for name, err := range h.Check(context.Background()) {
		up := 1.0
		if err != nil {
			up = 0
		}
		ch <- prometheus.MustNewConstMetric(h.upDesc, prometheus.GaugeValue, up, name)
	}
}
