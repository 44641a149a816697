package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/core/session"
)

// SweeperConfig configures the expiry sweeper.
type SweeperConfig struct {
	// Interval is the pause between sweeps.
	Interval time.Duration
	// BatchSize caps the candidates discovered per reason and sweep.
	BatchSize int
	// WaitTimeout bounds the wait for a batch to resolve.
	WaitTimeout time.Duration
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:    30 * time.Second,
		BatchSize:   500,
		WaitTimeout: time.Minute,
	}
}

type phase struct {
	handler *BatchHandler
	expiry  domain.CoreTokenField
}

// Sweeper discovers expired sessions and times them out.
type Sweeper struct {
	cfg        SweeperConfig
	dispatcher Dispatcher
	phases     []phase
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper creates a sweeper that times out sessions past their maximum
// lifetime first, then sessions past their idle timeout.
func NewSweeper(cfg SweeperConfig, d Dispatcher, access session.Access, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	return &Sweeper{
		cfg:        cfg,
		dispatcher: d,
		phases: []phase{
			{ForMaxSessionTimeExpired(d, access, logger), domain.SessionFieldMaxExpiry},
			{ForSessionIdleTimeExpired(d, access, logger), domain.SessionFieldIdleExpiry},
		},
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the clock expiry dates are compared against.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// WithMetrics attaches metrics to the sweeper's batch handlers.
func (s *Sweeper) WithMetrics(m *Metrics) *Sweeper {
	for _, p := range s.phases {
		p.handler.WithMetrics(m)
	}
	return s
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("session expiry sweeper started", "interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session expiry sweeper stopped")
			return nil
		case <-ticker.C:
			stats, err := s.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("session expiry sweep incomplete", "error", err)
			}
			if stats.Total() > 0 {
				s.logger.Info("session expiry sweep finished",
					"timed_out", stats.Succeeded,
					"conflicts", stats.Conflicted,
					"failed", stats.Failed)
			}
		}
	}
}

// Sweep runs one discovery and timeout pass per reason and waits for the
// batches, each for at most WaitTimeout.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var (
		total Stats
		errs  []error
	)
	for _, p := range s.phases {
		stats, err := s.sweep(ctx, p)
		total.Succeeded += stats.Succeeded
		total.Conflicted += stats.Conflicted
		total.Failed += stats.Failed
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (s *Sweeper) sweep(ctx context.Context, p phase) (Stats, error) {
	candidates, err := s.discover(ctx, p.expiry)
	if err != nil || len(candidates) == 0 {
		return Stats{}, err
	}
	s.logger.Debug("expired sessions found", "reason", string(p.handler.Reason()), "count", len(candidates))

	batch, submitErr := p.handler.TimeoutBatch(ctx, candidates)
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	waitErr := batch.Wait(waitCtx)
	if waitErr != nil {
		s.logger.Warn("expiry batch still running", "reason", string(p.handler.Reason()), "remaining", batch.Remaining())
	}
	return batch.Stats(), errors.Join(submitErr, waitErr)
}

// ExpiredFilter selects SESSION tokens whose expiry field is before now
// and that are not destroyed yet.
func ExpiredFilter(expiry domain.CoreTokenField, now time.Time, limit int) filter.TokenFilter {
	return filter.New().
		Where(
			filter.Equals{Field: domain.FieldTokenType, Value: domain.TokenTypeSession},
			filter.LessThan{Field: expiry, Value: now},
			filter.Not{Expr: filter.Equals{Field: domain.SessionFieldState, Value: domain.SessionStateDestroyed}},
		).
		Limit(limit).
		Returning(domain.FieldTokenID, domain.FieldETag, domain.SessionFieldSessionID).
		Build()
}

func (s *Sweeper) discover(ctx context.Context, expiry domain.CoreTokenField) ([]*domain.PartialToken, error) {
	results, err := s.dispatcher.PartialQuery(ctx, ExpiredFilter(expiry, s.now(), s.cfg.BatchSize))
	if err != nil {
		return nil, err
	}
	select {
	case res := <-results:
		return res.Partials, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
