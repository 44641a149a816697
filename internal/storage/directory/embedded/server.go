// Package embedded implements a single-node directory server on Badger.
//
// The server keeps one entry per DN, assigns a fresh etag on every write,
// evaluates assertions and post-read directives, expires entries that carry
// a TTL attribute, and streams changes to persistent searches. It is the
// default backend for a standalone deployment and the backend used by the
// token store tests.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// Config configures the embedded server.
type Config struct {
	// Dir is the Badger data directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all data in memory.
	InMemory bool
	// TTLAttribute names the attribute whose generalized time value bounds
	// the lifetime of an entry. Empty disables expiry.
	TTLAttribute string
	// SubscriberBuffer is the number of changes buffered per persistent
	// search before the subscription is dropped.
	SubscriberBuffer int
	// GCInterval is the value log GC period.
	GCInterval time.Duration
	// GCThreshold is the discard ratio passed to the value log GC.
	GCThreshold float64
	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the configuration for an on-disk server in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		InMemory:         dir == "",
		TTLAttribute:     "coreTokenTtlDate",
		SubscriberBuffer: 1024,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
	}
}

// Server is an embedded directory server.
type Server struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	// writeMu serialises writes so that assertions are evaluated against the
	// committed state and changes reach subscribers in commit order.
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*subscription]struct{}

	connsMu sync.Mutex
	conns   map[*conn]struct{}

	closed atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	metrics *serverMetrics
}

// Open starts a server.
func Open(cfg Config, logger *slog.Logger) (*Server, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("embedded: dir is required unless in_memory is set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 1024
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = 0.5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embedded: open db: %w", err)
	}

	s := &Server{
		db:     db,
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
		conns:  make(map[*conn]struct{}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go s.gcLoop()

	logger.Info("embedded directory started",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"ttl_attribute", cfg.TTLAttribute)

	return s, nil
}

// Dial opens a connection handle.
func (s *Server) Dial() (directory.Conn, error) {
	if s.closed.Load() {
		return nil, directory.NewError(directory.ServerDown, "server closed")
	}
	c := &conn{srv: s}
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
	s.metrics.connOpened()
	return c, nil
}

// Factory returns a connection factory bound to the server.
func (s *Server) Factory() directory.Factory {
	return factory{srv: s}
}

// DisconnectAll closes every open connection as if the network had failed.
// Persistent searches on those connections end with a ServerDown error.
func (s *Server) DisconnectAll() {
	s.connsMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.drop(directory.NewError(directory.ServerDown, "connection reset"))
	}
}

// Close stops the server. Open connections become invalid and persistent
// searches end with a ServerDown error.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("shutting down embedded directory")

	s.DisconnectAll()

	close(s.stopCh)
	<-s.doneCh
	s.wg.Wait()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("embedded: close db: %w", err)
	}
	return nil
}

// RegisterMetrics registers the server metrics with registry.
func (s *Server) RegisterMetrics(registry prometheus.Registerer) *Server {
	s.metrics = newServerMetrics(registry, s)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.metricsUpdateLoop()
	}()
	return s
}

func (s *Server) now() time.Time { return s.cfg.Now() }

func (s *Server) forget(c *conn) {
	s.connsMu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.connsMu.Unlock()
	if ok {
		s.metrics.connClosed()
	}
}

func (s *Server) gcLoop() {
	defer close(s.doneCh)

	if s.cfg.InMemory {
		<-s.stopCh
		return
	}

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runGC()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) runGC() {
	start := time.Now()
	runs := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Error("value log gc failed", "error", err)
			}
			break
		}
		runs++
	}
	s.metrics.gcCompleted(runs)
	s.logger.Debug("value log gc completed", "rewrites", runs, "elapsed", time.Since(start))
}

func (s *Server) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			s.metrics.setSizes(lsm, vlog)
		case <-s.stopCh:
			return
		}
	}
}

type factory struct {
	srv *Server
}

func (f factory) Create(ctx context.Context) (directory.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	return f.srv.Dial()
}

func (f factory) IsValid(c directory.Conn) bool {
	ec, ok := c.(*conn)
	return ok && ec.srv == f.srv && !ec.isClosed() && !f.srv.closed.Load()
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
