package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yndnr/tokmesh-cts/internal/core/persistence"
	"github.com/yndnr/tokmesh-cts/internal/infra/tlsroots"
	"github.com/yndnr/tokmesh-cts/internal/server/config"
	"github.com/yndnr/tokmesh-cts/internal/storage/cts"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory/embedded"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory/ldapconn"
)

// Conn is an open token store.
type Conn struct {
	adapter *cts.Adapter
	step    *persistence.Step

	closeOnce sync.Once
	closers   []func() error
	closeErr  error
}

// Open connects to the directory described by cfg.
func Open(cfg config.DirectorySection, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendEmbedded:
		dir := cfg.DataDir
		if cfg.InMemory {
			dir = ""
		}
		srv, err := embedded.Open(embedded.DefaultConfig(dir), logger)
		if err != nil {
			return nil, fmt.Errorf("open embedded directory %s: %w", dir, err)
		}
		c := FromFactory(cfg.BaseDN, srv.Factory(), logger)
		c.closers = append(c.closers, srv.Close)
		return c, nil
	case config.BackendLDAP:
		lc := ldapconn.Config{
			URL:            cfg.URL,
			BindDN:         cfg.BindDN,
			BindPassword:   cfg.BindPassword,
			DialTimeout:    cfg.DialTimeout,
			RequestTimeout: cfg.RequestTimeout,
		}
		if cfg.CAFile != "" {
			roots, err := tlsroots.Load(cfg.CAFile, logger)
			if err != nil {
				return nil, err
			}
			lc.TLS = roots.ClientConfig
		}
		return FromFactory(cfg.BaseDN, ldapconn.NewFactory(lc, logger), logger), nil
	}
	return nil, fmt.Errorf("unknown directory backend %q", cfg.Backend)
}

// FromFactory wraps an existing directory. Close releases the adapter only.
func FromFactory(baseDN string, factory directory.Factory, logger *slog.Logger) *Conn {
	a := cts.NewAdapter(baseDN, factory, logger)
	return &Conn{
		adapter: a,
		step:    persistence.NewStep(persistence.NewStore(a, logger)),
	}
}

// Adapter is the token storage adapter.
func (c *Conn) Adapter() *cts.Adapter { return c.adapter }

// Sessions is the session persistence bridge over the adapter.
func (c *Conn) Sessions() *persistence.Step { return c.step }

// Close releases the adapter, then the directory when Open created it.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		errs := []error{c.adapter.Close()}
		for i := len(c.closers) - 1; i >= 0; i-- {
			errs = append(errs, c.closers[i]())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
