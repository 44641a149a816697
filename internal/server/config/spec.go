package config

import "time"

// Directory backends.
const (
	BackendEmbedded = "embedded"
	BackendLDAP     = "ldap"
)

// ServerConfig is the root configuration for cts-server.
type ServerConfig struct {
	Directory     DirectorySection    `koanf:"directory" yaml:"directory"`
	Notifications NotificationSection `koanf:"notifications" yaml:"notifications"`
	Dispatcher    DispatcherSection   `koanf:"dispatcher" yaml:"dispatcher"`
	Expiry        ExpirySection       `koanf:"expiry" yaml:"expiry"`
	Metrics       MetricsSection      `koanf:"metrics" yaml:"metrics"`
	Log           LogSection          `koanf:"log" yaml:"log"`
}

// DirectorySection selects and configures the token directory.
type DirectorySection struct {
	// Backend is "embedded" or "ldap".
	Backend string `koanf:"backend" yaml:"backend"`
	// BaseDN is the container holding token entries.
	BaseDN string `koanf:"base_dn" yaml:"base_dn"`

	// Embedded backend.
	DataDir  string `koanf:"data_dir" yaml:"data_dir"`
	InMemory bool   `koanf:"in_memory" yaml:"in_memory"`

	// LDAP backend.
	URL            string        `koanf:"url" yaml:"url"`
	BindDN         string        `koanf:"bind_dn" yaml:"bind_dn"`
	BindPassword   string        `koanf:"bind_password" yaml:"bind_password"`
	DialTimeout    time.Duration `koanf:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	// CAFile is a PEM bundle trusted for ldaps:// in addition to the
	// system roots. It is reloaded when it changes.
	CAFile string `koanf:"ca_file" yaml:"ca_file"`
}

// NotificationSection configures the notification broker.
type NotificationSection struct {
	// Origin identifies this node; empty generates one at startup.
	Origin       string        `koanf:"origin" yaml:"origin"`
	QueueSize    int           `koanf:"queue_size" yaml:"queue_size"`
	QueueTimeout time.Duration `koanf:"queue_timeout" yaml:"queue_timeout"`
	TokenExpiry  time.Duration `koanf:"token_expiry" yaml:"token_expiry"`
}

// DispatcherSection configures the storage worker pool.
type DispatcherSection struct {
	Workers   int `koanf:"workers" yaml:"workers"`
	QueueSize int `koanf:"queue_size" yaml:"queue_size"`
	// RateLimit caps task starts per second; 0 is unlimited.
	RateLimit float64 `koanf:"rate_limit" yaml:"rate_limit"`
}

// ExpirySection configures the session expiry sweeper.
type ExpirySection struct {
	Enabled       bool          `koanf:"enabled" yaml:"enabled"`
	SweepInterval time.Duration `koanf:"sweep_interval" yaml:"sweep_interval"`
	BatchSize     int           `koanf:"batch_size" yaml:"batch_size"`
	WaitTimeout   time.Duration `koanf:"wait_timeout" yaml:"wait_timeout"`
}

// MetricsSection configures the operational HTTP endpoint.
type MetricsSection struct {
	// Addr serves /metrics and /healthz; empty disables the endpoint.
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}
