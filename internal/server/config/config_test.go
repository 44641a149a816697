package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/infra/confloader"
)

func validConfig(t *testing.T) *ServerConfig {
	t.Helper()
	cfg := Default()
	cfg.Directory.DataDir = filepath.Join(t.TempDir(), "data")
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Directory.Backend != BackendEmbedded {
		t.Errorf("Backend = %q, want %q", cfg.Directory.Backend, BackendEmbedded)
	}
	if cfg.Notifications.QueueSize != 10000 {
		t.Errorf("Notifications.QueueSize = %d, want 10000", cfg.Notifications.QueueSize)
	}
	if cfg.Notifications.QueueTimeout != 500*time.Millisecond {
		t.Errorf("Notifications.QueueTimeout = %v, want 500ms", cfg.Notifications.QueueTimeout)
	}
	if cfg.Notifications.TokenExpiry != 600*time.Second {
		t.Errorf("Notifications.TokenExpiry = %v, want 600s", cfg.Notifications.TokenExpiry)
	}
	if cfg.Expiry.SweepInterval != DefaultSweepInterval || cfg.Expiry.BatchSize != DefaultBatchSize {
		t.Errorf("Expiry = %+v", cfg.Expiry)
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestDefaultMap_RoundTrip(t *testing.T) {
	l := confloader.NewLoader(
		confloader.WithEnvPrefix("CTS_TEST_UNUSED_"),
		confloader.WithDefaults(DefaultMap()),
	)
	var cfg ServerConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != *Default() {
		t.Fatalf("loaded defaults = %+v, want %+v", cfg, *Default())
	}
}

func TestVerify_ValidConfig(t *testing.T) {
	if err := Verify(validConfig(t)); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	ldap := validConfig(t)
	ldap.Directory.Backend = BackendLDAP
	ldap.Directory.URL = "ldaps://ds.example.com:636"
	if err := Verify(ldap); err != nil {
		t.Fatalf("Verify(ldap) error = %v", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		want   string
	}{
		{"unknown backend", func(c *ServerConfig) { c.Directory.Backend = "redis" }, "directory.backend"},
		{"empty base dn", func(c *ServerConfig) { c.Directory.BaseDN = "" }, "directory.base_dn"},
		{"embedded needs dir", func(c *ServerConfig) { c.Directory.DataDir = "" }, "directory.data_dir"},
		{"ldap needs url", func(c *ServerConfig) { c.Directory.Backend = BackendLDAP }, "directory.url"},
		{"ldap scheme", func(c *ServerConfig) {
			c.Directory.Backend = BackendLDAP
			c.Directory.URL = "http://ds"
		}, "unsupported scheme"},
		{"ldap ca file", func(c *ServerConfig) {
			c.Directory.Backend = BackendLDAP
			c.Directory.URL = "ldaps://ds"
			c.Directory.CAFile = "/nonexistent/ca.pem"
		}, "directory.ca_file"},
		{"queue size", func(c *ServerConfig) { c.Notifications.QueueSize = 0 }, "notifications.queue_size"},
		{"queue timeout", func(c *ServerConfig) { c.Notifications.QueueTimeout = 0 }, "notifications.queue_timeout"},
		{"token expiry", func(c *ServerConfig) { c.Notifications.TokenExpiry = -time.Second }, "notifications.token_expiry"},
		{"workers", func(c *ServerConfig) { c.Dispatcher.Workers = 0 }, "dispatcher.workers"},
		{"rate limit", func(c *ServerConfig) { c.Dispatcher.RateLimit = -1 }, "dispatcher.rate_limit"},
		{"batch size", func(c *ServerConfig) { c.Expiry.BatchSize = 0 }, "expiry.batch_size"},
		{"metrics addr", func(c *ServerConfig) { c.Metrics.Addr = "nonsense" }, "metrics.addr"},
		{"log level", func(c *ServerConfig) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *ServerConfig) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Verify(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Verify() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestVerify_DisabledSectionsSkipChecks(t *testing.T) {
	cfg := validConfig(t)
	cfg.Expiry.Enabled = false
	cfg.Expiry.BatchSize = 0
	cfg.Metrics.Addr = ""
	cfg.Directory.InMemory = true
	cfg.Directory.DataDir = ""
	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerify_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.Notifications.QueueSize = 0
	cfg.Dispatcher.Workers = 0
	err := Verify(cfg)
	if err == nil {
		t.Fatal("Verify() should fail")
	}
	for _, want := range []string{"notifications.queue_size", "dispatcher.workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Verify() = %v, missing %q", err, want)
		}
	}
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Directory.BindPassword = "super-secret-password"

	sanitized := Sanitize(cfg)
	if cfg.Directory.BindPassword != "super-secret-password" {
		t.Fatal("Sanitize modified the original")
	}
	if got := sanitized.Directory.BindPassword; got != "su*****************rd" {
		t.Fatalf("BindPassword = %q", got)
	}

	cfg.Directory.BindPassword = ""
	if got := Sanitize(cfg).Directory.BindPassword; got != "" {
		t.Fatalf("empty password sanitized to %q", got)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", "****"},
		{"abcd", "****"},
		{"abcdef", "ab**ef"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
