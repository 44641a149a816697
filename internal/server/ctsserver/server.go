package ctsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/tokmesh-cts/internal/core/dispatch"
	"github.com/yndnr/tokmesh-cts/internal/core/persistence"
	"github.com/yndnr/tokmesh-cts/internal/core/session"
	"github.com/yndnr/tokmesh-cts/internal/core/worker"
	"github.com/yndnr/tokmesh-cts/internal/infra/shutdown"
	"github.com/yndnr/tokmesh-cts/internal/infra/tlsroots"
	"github.com/yndnr/tokmesh-cts/internal/notify"
	"github.com/yndnr/tokmesh-cts/internal/server/config"
	"github.com/yndnr/tokmesh-cts/internal/storage/cts"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory/embedded"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory/ldapconn"
	"github.com/yndnr/tokmesh-cts/internal/telemetry/metric"
)

// probeTokenID is read by the directory health probe. It never exists.
const probeTokenID = "cts-health-probe"

// Server is an assembled node.
type Server struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	registry *metric.Registry
	health   *metric.Health

	embedded   *embedded.Server
	adapter    *cts.Adapter
	dispatcher *dispatch.Dispatcher
	broker     *notify.CTSBroker
	store      *persistence.Store
	step       *persistence.Step
	sessions   *session.Manager
	sweeper    *worker.Sweeper
	events     *notify.Subscription

	listener net.Listener
	http     *http.Server
}

// New builds every component and registers its release with h, so the
// hooks run in reverse build order. On error the components built so far
// have already been released.
func New(cfg *config.ServerConfig, logger *slog.Logger, h *shutdown.Handler) (_ *Server, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}
	s.health = metric.NewHealth(2 * time.Second)
	s.registry = metric.NewRegistry(s.health)
	reg := s.registry.Registerer()

	defer func() {
		if err != nil {
			_ = h.Shutdown()
		}
	}()

	factory, err := s.openDirectory(h)
	if err != nil {
		return nil, err
	}

	s.adapter = cts.NewAdapter(cfg.Directory.BaseDN, factory, logger).RegisterMetrics(reg)
	h.OnClose("adapter", s.adapter.Close)
	s.health.Register("directory", func(ctx context.Context) error {
		_, err := s.adapter.Read(ctx, probeTokenID)
		return err
	})

	s.dispatcher = dispatch.New(dispatch.Config{
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
		RateLimit: cfg.Dispatcher.RateLimit,
	}, s.adapter, logger).RegisterMetrics(reg)
	h.OnClose("dispatcher", s.dispatcher.Close)

	ncfg := notify.DefaultConfig()
	ncfg.QueueSize = cfg.Notifications.QueueSize
	ncfg.QueueTimeout = cfg.Notifications.QueueTimeout
	ncfg.TokenExpiry = cfg.Notifications.TokenExpiry
	local := notify.NewLocalBroker(ncfg, cfg.Notifications.Origin, logger).RegisterMetrics(reg)
	s.broker = notify.NewCTSBroker(local, s.adapter, ncfg, logger)
	h.OnShutdown("notifications", func(context.Context) error {
		s.broker.Shutdown()
		return nil
	})

	s.store = persistence.NewStore(s.adapter, logger)
	s.step = persistence.NewStep(s.store)
	s.sessions = session.NewManager(s.store, s.broker, logger).RegisterMetrics(reg)
	s.events = s.broker.Subscribe(session.Topic, s.onSessionEvent)
	h.OnShutdown("session events", func(context.Context) error {
		s.events.Close()
		return nil
	})

	if cfg.Expiry.Enabled {
		s.sweeper = worker.NewSweeper(worker.SweeperConfig{
			Interval:    cfg.Expiry.SweepInterval,
			BatchSize:   cfg.Expiry.BatchSize,
			WaitTimeout: cfg.Expiry.WaitTimeout,
		}, s.dispatcher, s.sessions, logger).WithMetrics(worker.NewMetrics(reg))
	}

	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen metrics: %w", err)
		}
		s.listener = ln
		s.http = &http.Server{
			Handler:           s.registry.Mux(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		h.OnShutdown("metrics endpoint", func(ctx context.Context) error {
			err := s.http.Shutdown(ctx)
			if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = errors.Join(err, cerr)
			}
			return err
		})
	}
	return s, nil
}

func (s *Server) openDirectory(h *shutdown.Handler) (directory.Factory, error) {
	d := s.cfg.Directory
	switch d.Backend {
	case config.BackendEmbedded:
		dir := d.DataDir
		if d.InMemory {
			dir = ""
		}
		srv, err := embedded.Open(embedded.DefaultConfig(dir), s.logger)
		if err != nil {
			return nil, fmt.Errorf("open embedded directory: %w", err)
		}
		srv.RegisterMetrics(s.registry.Registerer())
		s.embedded = srv
		h.OnClose("embedded directory", srv.Close)
		return srv.Factory(), nil
	case config.BackendLDAP:
		lc := ldapconn.Config{
			URL:            d.URL,
			BindDN:         d.BindDN,
			BindPassword:   d.BindPassword,
			DialTimeout:    d.DialTimeout,
			RequestTimeout: d.RequestTimeout,
		}
		if d.CAFile != "" {
			roots, err := tlsroots.Load(d.CAFile, s.logger)
			if err != nil {
				return nil, err
			}
			w, err := roots.Watch(0)
			if err != nil {
				return nil, err
			}
			h.OnClose("trust roots watcher", w.Stop)
			lc.TLS = roots.ClientConfig
		}
		return ldapconn.NewFactory(lc, s.logger), nil
	}
	return nil, fmt.Errorf("unknown directory backend %q", d.Backend)
}

// onSessionEvent drops sessions that another node timed out from the local
// cache so the next lookup recovers the stored state.
func (s *Server) onSessionEvent(n *notify.Notification) {
	if n.Origin == s.broker.Local().Origin() {
		return
	}
	var ev session.Event
	if err := n.Decode(&ev); err != nil {
		s.logger.Warn("dropping malformed session event", "notification_id", n.ID, "error", err)
		return
	}
	s.sessions.Remove(ev.SessionID)
	s.logger.Debug("remote session event", "session_id", ev.SessionID, "type", ev.Type, "origin", n.Origin)
}

// Run starts the background work and blocks until ctx is done or one of
// the loops fails. It does not release components; that is the shutdown
// handler's job.
func (s *Server) Run(ctx context.Context) error {
	if err := s.broker.Start(ctx); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.sweeper != nil {
		g.Go(func() error { return s.sweeper.Run(gctx) })
	}
	if s.http != nil {
		s.logger.Info("metrics endpoint listening", "addr", s.listener.Addr().String())
		g.Go(func() error {
			if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return s.http.Shutdown(sctx)
		})
	}
	s.logger.Info("token store node started",
		"backend", s.cfg.Directory.Backend,
		"origin", s.broker.Local().Origin(),
		"expiry_sweeper", s.sweeper != nil)
	return g.Wait()
}

// Addr returns the metrics endpoint address, nil when disabled.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Step is the session persistence bridge of this node.
func (s *Server) Step() *persistence.Step { return s.step }

// Sessions is the live session cache of this node.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Broker is the notification broker of this node.
func (s *Server) Broker() *notify.CTSBroker { return s.broker }

// Dispatcher is the storage task dispatcher of this node.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Sweeper is the expiry sweeper, nil when expiry is disabled.
func (s *Server) Sweeper() *worker.Sweeper { return s.sweeper }

// Gatherer exposes the metrics registry.
func (s *Server) Gatherer() prometheus.Gatherer { return s.registry.Gatherer() }
