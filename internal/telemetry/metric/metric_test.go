package metric

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHealth_Check(t *testing.T) {
	h := NewHealth(time.Second)
	down := errors.New("directory unreachable")
	h.Register("directory", func(context.Context) error { return down })
	h.Register("broker", func(context.Context) error { return nil })

	got := h.Check(context.Background())
	if len(got) != 2 {
		t.Fatalf("Check() = %v, want 2 results", got)
	}
	if !errors.Is(got["directory"], down) || got["broker"] != nil {
		t.Fatalf("Check() = %v", got)
	}
}

func TestHealth_ProbeTimeout(t *testing.T) {
	h := NewHealth(20 * time.Millisecond)
	h.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := h.Check(context.Background())["slow"]; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("slow probe = %v, want DeadlineExceeded", err)
	}
}

func TestHealth_ServeHTTP(t *testing.T) {
	h := NewHealth(time.Second)
	h.Register("directory", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h.Register("broker", func(context.Context) error { return errors.New("closed") })
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Components["broker"] != "closed" || body.Components["directory"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRegistry_Mux(t *testing.T) {
	h := NewHealth(time.Second)
	h.Register("directory", func(context.Context) error { return nil })
	r := NewRegistry(h)

	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Name: "test_total", Help: "test"})
	r.Registerer().MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(r.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"cts_test_total 1", `cts_component_up{component="directory"} 1`, "cts_build_info"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestRegistry_WithoutHealth(t *testing.T) {
	r := NewRegistry(nil)
	rec := httptest.NewRecorder()
	r.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("/healthz status = %d, want 404 without health", rec.Code)
	}
}
