// Package dispatch runs token store operations on a bounded worker pool.
//
// Every accepted task produces exactly one Result, delivered on the
// buffered channel returned by Submit. The dispatcher never retries.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
)

// Store is the token store the tasks run against.
type Store interface {
	Create(ctx context.Context, token *domain.Token) (*domain.Token, error)
	Read(ctx context.Context, tokenID string) (*domain.Token, error)
	Update(ctx context.Context, previous, updated *domain.Token) (*domain.Token, error)
	Delete(ctx context.Context, tokenID, etag string) error
	Query(ctx context.Context, f filter.TokenFilter) ([]*domain.Token, error)
	PartialQuery(ctx context.Context, f filter.TokenFilter) ([]*domain.PartialToken, error)
}

// Result is the outcome of a task: Err is set on failure, otherwise the
// field matching the operation holds the value.
type Result struct {
	Token    *domain.Token
	Tokens   []*domain.Token
	Partials []*domain.PartialToken
	Err      error
}

// OK reports whether the task succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Task is a unit of work executed by a worker.
type Task interface {
	Execute(ctx context.Context, store Store) Result
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, store Store) Result

func (f TaskFunc) Execute(ctx context.Context, store Store) Result { return f(ctx, store) }

// Config configures the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	// RateLimit caps task starts per second; 0 disables limiting.
	RateLimit float64
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1000}
}

type job struct {
	ctx  context.Context
	task Task
	out  chan Result
}

// Dispatcher is a fixed-size worker pool.
type Dispatcher struct {
	store   Store
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *dispatchMetrics

	queue chan job
	quit  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a dispatcher.
func New(cfg Config, store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	d := &Dispatcher{
		store:  store,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := max(1, int(cfg.RateLimit))
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	logger.Info("task dispatcher started",
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"rate_limit", cfg.RateLimit)
	return d
}

// RegisterMetrics registers the dispatcher metrics with registry.
func (d *Dispatcher) RegisterMetrics(registry prometheus.Registerer) *Dispatcher {
	d.metrics = newDispatchMetrics(registry, d)
	return d
}

// Submit queues a task. It blocks while the queue is full until ctx is
// done. The returned channel receives exactly one Result.
func (d *Dispatcher) Submit(ctx context.Context, task Task) (<-chan Result, error) {
	if task == nil {
		return nil, domain.ErrPrecondition.WithDetails("task is nil")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, domain.ErrDispatcherClosed
	}

	j := job{ctx: ctx, task: task, out: make(chan Result, 1)}
	select {
	case d.queue <- j:
		d.metrics.submitted()
		return j.out, nil
	case <-d.quit:
		return nil, domain.ErrDispatcherClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting tasks, lets the workers finish the queued ones and
// waits for them.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		j.out <- d.run(j)
	}
}

func (d *Dispatcher) run(j job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "panic", r)
			res = Result{Err: domain.ErrBackendOperation.WithDetails("task panicked")}
		}
		d.metrics.completed(res.Err)
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(j.ctx); err != nil {
			return Result{Err: err}
		}
	}
	return j.task.Execute(j.ctx, d.store)
}

func (d *Dispatcher) queued() int { return len(d.queue) }

// Create submits a token creation.
func (d *Dispatcher) Create(ctx context.Context, token *domain.Token) (<-chan Result, error) {
	return d.Submit(ctx, TaskFunc(func(ctx context.Context, s Store) Result {
		t, err := s.Create(ctx, token)
		return Result{Token: t, Err: err}
	}))
}

// Read submits a token read. A missing token yields a Result with neither
// Token nor Err set.
func (d *Dispatcher) Read(ctx context.Context, tokenID string) (<-chan Result, error) {
	return d.Submit(ctx, TaskFunc(func(ctx context.Context, s Store) Result {
		t, err := s.Read(ctx, tokenID)
		return Result{Token: t, Err: err}
	}))
}

// Update submits a partial conditional update: only the fields set on
// token are written, and only if the stored etag still equals token's.
// A token without etag is written unconditionally.
func (d *Dispatcher) Update(ctx context.Context, token *domain.Token) (<-chan Result, error) {
	if token == nil {
		return nil, domain.ErrPrecondition.WithDetails("token is nil")
	}
	previous := domain.NewToken(token.ID(), token.Type()).SetETag(token.ETag())
	updated := token.Clone().SetETag("")
	return d.Submit(ctx, TaskFunc(func(ctx context.Context, s Store) Result {
		t, err := s.Update(ctx, previous, updated)
		return Result{Token: t, Err: err}
	}))
}

// Delete submits a conditional delete.
func (d *Dispatcher) Delete(ctx context.Context, tokenID, etag string) (<-chan Result, error) {
	return d.Submit(ctx, TaskFunc(func(ctx context.Context, s Store) Result {
		return Result{Err: s.Delete(ctx, tokenID, etag)}
	}))
}

// Query submits a query.
func (d *Dispatcher) Query(ctx context.Context, f filter.TokenFilter) (<-chan Result, error) {
	return d.Submit(ctx, TaskFunc(func(ctx context.Context, s Store) Result {
		tokens, err := s.Query(ctx, f)
		return Result{Tokens: tokens, Err: err}
	}))
}

// PartialQuery submits a partial query.
func (d *Dispatcher) PartialQuery(ctx context.Context, f filter.TokenFilter) (<-chan Result, error) {
	return d.Submit(ctx, TaskFunc(func(ctx context.Context, s Store) Result {
		partials, err := s.PartialQuery(ctx, f)
		return Result{Partials: partials, Err: err}
	}))
}
