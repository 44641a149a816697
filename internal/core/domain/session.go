package domain

import (
	"maps"
	"slices"
	"time"
)

// SessionIDPrefix is the prefix for generated session IDs.
const SessionIDPrefix = "tmss-"

// Session token field mapping. Session tokens reuse the generic searchable
// fields of the token schema.
const (
	SessionFieldSessionID    = FieldString01
	SessionFieldHandle       = FieldString02
	SessionFieldState        = FieldString03
	SessionFieldRealm        = FieldString04
	SessionFieldMaxExpiry    = FieldDate01
	SessionFieldIdleExpiry   = FieldDate02
	SessionFieldLatestAccess = FieldDate03
	SessionFieldRestricted   = FieldMultiString01
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionStateInvalid   SessionState = "INVALID"
	SessionStateValid     SessionState = "VALID"
	SessionStateInactive  SessionState = "INACTIVE"
	SessionStateDestroyed SessionState = "DESTROYED"
)

// SessionEventType identifies why a session changed state.
type SessionEventType string

const (
	SessionEventIdleTimeout SessionEventType = "IDLE_TIMEOUT"
	SessionEventMaxTimeout  SessionEventType = "MAX_TIMEOUT"
	SessionEventLogout      SessionEventType = "LOGOUT"
	SessionEventDestroy     SessionEventType = "DESTROY"
)

// Session is the persistent state of an internal session.
type Session struct {
	ID            string
	Handle        string
	RestrictedIDs []string
	UserID        string
	Realm         string
	State         SessionState
	CreatedAt     time.Time
	LatestAccess  time.Time
	MaxSession    time.Duration // maximum lifetime
	MaxIdle       time.Duration // maximum inactivity
	Properties    map[string]string

	// ETag is the version stamp of the stored token this session was
	// recovered from; empty for sessions never persisted.
	ETag string
}

// NewSession creates a valid session with a generated ID and handle.
func NewSession(userID string, maxSession, maxIdle time.Duration) (*Session, error) {
	id, err := GenerateTokenID(SessionIDPrefix)
	if err != nil {
		return nil, err
	}
	handle, err := GenerateTokenID("shandle:")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Handle:       handle,
		UserID:       userID,
		State:        SessionStateValid,
		CreatedAt:    now,
		LatestAccess: now,
		MaxSession:   maxSession,
		MaxIdle:      maxIdle,
		Properties:   make(map[string]string),
	}, nil
}

// MaxExpiry returns the instant the session reaches its maximum lifetime.
func (s *Session) MaxExpiry() time.Time {
	return s.CreatedAt.Add(s.MaxSession)
}

// IdleExpiry returns the instant the session times out for inactivity.
func (s *Session) IdleExpiry() time.Time {
	return s.LatestAccess.Add(s.MaxIdle)
}

// ExpiryTime returns the earlier of the idle and max expiry.
func (s *Session) ExpiryTime() time.Time {
	maxExp, idleExp := s.MaxExpiry(), s.IdleExpiry()
	if s.MaxIdle > 0 && idleExp.Before(maxExp) {
		return idleExp
	}
	return maxExp
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.RestrictedIDs = slices.Clone(s.RestrictedIDs)
	c.Properties = maps.Clone(s.Properties)
	return &c
}
