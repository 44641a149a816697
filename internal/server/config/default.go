package config

import "time"

// Default configuration values.
const (
	DefaultBackend        = BackendEmbedded
	DefaultBaseDN         = "ou=famrecords,ou=openam-session,ou=tokens,dc=openam,dc=example,dc=org"
	DefaultDataDir        = "/var/lib/cts-server/data"
	DefaultDialTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	DefaultNotificationQueueSize    = 10000
	DefaultNotificationQueueTimeout = 500 * time.Millisecond
	DefaultNotificationTokenExpiry  = 600 * time.Second

	DefaultDispatcherWorkers   = 4
	DefaultDispatcherQueueSize = 1000

	DefaultSweepInterval = 30 * time.Second
	DefaultBatchSize     = 500
	DefaultWaitTimeout   = time.Minute

	DefaultMetricsAddr = "127.0.0.1:9090"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Directory: DirectorySection{
			Backend:        DefaultBackend,
			BaseDN:         DefaultBaseDN,
			DataDir:        DefaultDataDir,
			DialTimeout:    DefaultDialTimeout,
			RequestTimeout: DefaultRequestTimeout,
		},
		Notifications: NotificationSection{
			QueueSize:    DefaultNotificationQueueSize,
			QueueTimeout: DefaultNotificationQueueTimeout,
			TokenExpiry:  DefaultNotificationTokenExpiry,
		},
		Dispatcher: DispatcherSection{
			Workers:   DefaultDispatcherWorkers,
			QueueSize: DefaultDispatcherQueueSize,
		},
		Expiry: ExpirySection{
			Enabled:       true,
			SweepInterval: DefaultSweepInterval,
			BatchSize:     DefaultBatchSize,
			WaitTimeout:   DefaultWaitTimeout,
		},
		Metrics: MetricsSection{
			Addr: DefaultMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultMap returns Default in the nested map form consumed by
// confloader.WithDefaults. Durations are rendered as strings.
func DefaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"directory": map[string]any{
			"backend":         d.Directory.Backend,
			"base_dn":         d.Directory.BaseDN,
			"data_dir":        d.Directory.DataDir,
			"in_memory":       d.Directory.InMemory,
			"dial_timeout":    d.Directory.DialTimeout.String(),
			"request_timeout": d.Directory.RequestTimeout.String(),
		},
		"notifications": map[string]any{
			"queue_size":    d.Notifications.QueueSize,
			"queue_timeout": d.Notifications.QueueTimeout.String(),
			"token_expiry":  d.Notifications.TokenExpiry.String(),
		},
		"dispatcher": map[string]any{
			"workers":    d.Dispatcher.Workers,
			"queue_size": d.Dispatcher.QueueSize,
			"rate_limit": d.Dispatcher.RateLimit,
		},
		"expiry": map[string]any{
			"enabled":        d.Expiry.Enabled,
			"sweep_interval": d.Expiry.SweepInterval.String(),
			"batch_size":     d.Expiry.BatchSize,
			"wait_timeout":   d.Expiry.WaitTimeout.String(),
		},
		"metrics": map[string]any{
			"addr": d.Metrics.Addr,
		},
		"log": map[string]any{
			"level":  d.Log.Level,
			"format": d.Log.Format,
		},
	}
}
