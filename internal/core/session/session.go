package session

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// Topic is the notification topic session events are published on.
const Topic = "session"

// Publisher sends notifications. Both notify brokers satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Event is the payload published when a session changes state.
type Event struct {
	SessionID string                  `cbor:"session_id"`
	Handle    string                  `cbor:"handle,omitempty"`
	UserID    string                  `cbor:"user_id,omitempty"`
	Realm     string                  `cbor:"realm,omitempty"`
	Type      domain.SessionEventType `cbor:"type"`
	State     domain.SessionState     `cbor:"state"`
	Time      time.Time               `cbor:"time"`
}

// Handle is the view of a live session the expiry pipeline needs.
type Handle interface {
	Timeout(ctx context.Context, reason domain.SessionEventType) error
}

// Access resolves session ids to handles.
type Access interface {
	Lookup(ctx context.Context, sessionID string) (Handle, error)
}

// InternalSession is a live session. It is safe for concurrent use.
type InternalSession struct {
	mu       sync.Mutex
	state    *domain.Session
	timedOut bool
	manager  *Manager
}

// ID returns the session id.
func (s *InternalSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// State returns the lifecycle state.
func (s *InternalSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.State
}

// Snapshot returns a copy of the session state.
func (s *InternalSession) Snapshot() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Timeout destroys the session because it expired. Only the first call
// has an effect, including on a session recovered after the store already
// marked it DESTROYED; later calls return nil. The session is dropped from
// the manager, an audit record is logged and a session event is
// published. A publish failure is returned after the transition.
func (s *InternalSession) Timeout(ctx context.Context, reason domain.SessionEventType) error {
	s.mu.Lock()
	if s.timedOut {
		s.mu.Unlock()
		return nil
	}
	s.timedOut = true
	previous := s.state.State
	s.state.State = domain.SessionStateDestroyed
	snap := s.state.Clone()
	s.mu.Unlock()

	m := s.manager
	m.sessions.DeleteIf(snap.ID, func(v *InternalSession) bool { return v == s })
	m.metrics.timedOut(reason)
	m.logger.Info("session timed out",
		"audit", true,
		"session_id", snap.ID,
		"user_id", snap.UserID,
		"realm", snap.Realm,
		"reason", string(reason),
		"previous_state", string(previous))

	if m.publisher == nil {
		return nil
	}
	ev := Event{
		SessionID: snap.ID,
		Handle:    snap.Handle,
		UserID:    snap.UserID,
		Realm:     snap.Realm,
		Type:      reason,
		State:     snap.State,
		Time:      m.now().UTC(),
	}
	if err := m.publisher.Publish(ctx, Topic, ev); err != nil {
		m.logger.Warn("session event not published", "session_id", snap.ID, "error", err)
		return err
	}
	return nil
}
