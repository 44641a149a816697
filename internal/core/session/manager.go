package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/pkg/cmap"
)

// Recoverer loads persisted sessions. persistence.Store satisfies it.
type Recoverer interface {
	Recover(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Manager caches the live sessions of this node.
type Manager struct {
	sessions  *cmap.Map[string, *InternalSession]
	store     Recoverer
	publisher Publisher
	logger    *slog.Logger
	metrics   *managerMetrics
	now       func() time.Time
}

// NewManager creates a manager. store and publisher may be nil: without a
// store only cached sessions resolve, without a publisher no events are
// sent.
func NewManager(store Recoverer, publisher Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  cmap.New[string, *InternalSession](),
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterMetrics registers the manager metrics with registry.
func (m *Manager) RegisterMetrics(registry prometheus.Registerer) *Manager {
	m.metrics = newManagerMetrics(registry, m.sessions.Count)
	return m
}

// Add caches s and returns its live handle. An already cached session with
// the same id wins.
func (m *Manager) Add(s *domain.Session) *InternalSession {
	is, _ := m.sessions.GetOrSet(s.ID, &InternalSession{state: s.Clone(), manager: m})
	return is
}

// Get returns a cached session.
func (m *Manager) Get(sessionID string) (*InternalSession, bool) {
	return m.sessions.Get(sessionID)
}

// Remove drops a session from the cache.
func (m *Manager) Remove(sessionID string) {
	m.sessions.Delete(sessionID)
}

// Count returns the number of cached sessions.
func (m *Manager) Count() int { return m.sessions.Count() }

// Lookup resolves a session id, recovering the session from the store
// when it is not cached. Unknown ids fail with ErrSessionNotFound.
func (m *Manager) Lookup(ctx context.Context, sessionID string) (Handle, error) {
	is, err := m.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return is, nil
}

// Resolve is Lookup returning the concrete session.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (*InternalSession, error) {
	if sessionID == "" {
		return nil, domain.ErrPrecondition.WithDetails("session id is empty")
	}
	if is, ok := m.sessions.Get(sessionID); ok {
		return is, nil
	}
	if m.store == nil {
		return nil, domain.ErrSessionNotFound.WithDetails(sessionID)
	}

	s, err := m.store.Recover(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, domain.ErrSessionNotFound.WithDetails(sessionID)
	}
	m.metrics.recovered()
	m.logger.Debug("session recovered", "session_id", sessionID)
	return m.Add(s), nil
}
