package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/yndnr/tokmesh-cts/internal/telemetry/logger"
)

// Verify validates the configuration and reports every problem found.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyDirectory(&cfg.Directory),
		verifyNotifications(&cfg.Notifications),
		verifyDispatcher(&cfg.Dispatcher),
		verifyExpiry(&cfg.Expiry),
		verifyMetrics(&cfg.Metrics),
		verifyLog(&cfg.Log),
	)
}

func verifyDirectory(cfg *DirectorySection) error {
	var errs []error
	if cfg.BaseDN == "" {
		errs = append(errs, errors.New("directory.base_dn is required"))
	}
	switch cfg.Backend {
	case BackendEmbedded:
		if !cfg.InMemory {
			if cfg.DataDir == "" {
				errs = append(errs, errors.New("directory.data_dir is required unless directory.in_memory is set"))
			} else if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
				errs = append(errs, fmt.Errorf("directory.data_dir: %w", err))
			}
		}
	case BackendLDAP:
		u, err := url.Parse(cfg.URL)
		switch {
		case cfg.URL == "":
			errs = append(errs, errors.New("directory.url is required for the ldap backend"))
		case err != nil:
			errs = append(errs, fmt.Errorf("directory.url: %w", err))
		case u.Scheme != "ldap" && u.Scheme != "ldaps":
			errs = append(errs, fmt.Errorf("directory.url: unsupported scheme %q", u.Scheme))
		}
		if cfg.DialTimeout <= 0 {
			errs = append(errs, errors.New("directory.dial_timeout must be positive"))
		}
		if cfg.CAFile != "" {
			if _, err := os.Stat(cfg.CAFile); err != nil {
				errs = append(errs, fmt.Errorf("directory.ca_file: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("directory.backend: unknown backend %q", cfg.Backend))
	}
	return errors.Join(errs...)
}

func verifyNotifications(cfg *NotificationSection) error {
	var errs []error
	if cfg.QueueSize <= 0 {
		errs = append(errs, errors.New("notifications.queue_size must be positive"))
	}
	if cfg.QueueTimeout <= 0 {
		errs = append(errs, errors.New("notifications.queue_timeout must be positive"))
	}
	if cfg.TokenExpiry <= 0 {
		errs = append(errs, errors.New("notifications.token_expiry must be positive"))
	}
	return errors.Join(errs...)
}

func verifyDispatcher(cfg *DispatcherSection) error {
	var errs []error
	if cfg.Workers <= 0 {
		errs = append(errs, errors.New("dispatcher.workers must be positive"))
	}
	if cfg.QueueSize < 0 {
		errs = append(errs, errors.New("dispatcher.queue_size must not be negative"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, errors.New("dispatcher.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyExpiry(cfg *ExpirySection) error {
	if !cfg.Enabled {
		return nil
	}
	var errs []error
	if cfg.SweepInterval <= 0 {
		errs = append(errs, errors.New("expiry.sweep_interval must be positive"))
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, errors.New("expiry.batch_size must be positive"))
	}
	if cfg.WaitTimeout <= 0 {
		errs = append(errs, errors.New("expiry.wait_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func verifyMetrics(cfg *MetricsSection) error {
	if cfg.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", cfg.Format))
	}
	return errors.Join(errs...)
}
