package persistence

import (
	"context"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// Step is the persistence step of the internal session store chain.
// Arguments are checked before any I/O; an empty id or nil session fails
// with ErrPrecondition.
type Step struct {
	store *Store
}

// NewStep creates a Step over store.
func NewStep(store *Store) *Step {
	return &Step{store: store}
}

// GetBySessionID recovers a session; nil when it is not stored.
func (s *Step) GetBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrPrecondition.WithDetails("session id is empty")
	}
	return wrapRecover(s.store.Recover(ctx, sessionID))
}

// GetByHandle recovers a session by its handle.
func (s *Step) GetByHandle(ctx context.Context, handle string) (*domain.Session, error) {
	if handle == "" {
		return nil, domain.ErrPrecondition.WithDetails("session handle is empty")
	}
	return wrapRecover(s.store.RecoverByHandle(ctx, handle))
}

// GetByRestrictedID recovers the session that issued restrictedID.
func (s *Step) GetByRestrictedID(ctx context.Context, restrictedID string) (*domain.Session, error) {
	if restrictedID == "" {
		return nil, domain.ErrPrecondition.WithDetails("restricted id is empty")
	}
	return wrapRecover(s.store.GetByRestrictedID(ctx, restrictedID))
}

// Store saves session and records the new ETag on it.
func (s *Step) Store(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return domain.ErrPrecondition.WithDetails("session is nil")
	}
	if session.ID == "" {
		return domain.ErrPrecondition.WithDetails("session id is empty")
	}
	saved, err := s.store.Save(ctx, session)
	if err != nil {
		return domain.ErrSessionPersistence.WithDetails("failed to save session").WithCause(err)
	}
	session.ETag = saved.ETag
	return nil
}

// Remove deletes a session.
func (s *Step) Remove(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrPrecondition.WithDetails("session id is empty")
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return domain.ErrSessionPersistence.WithDetails("failed to delete session").WithCause(err)
	}
	return nil
}

func wrapRecover(session *domain.Session, err error) (*domain.Session, error) {
	if err != nil {
		return nil, domain.ErrSessionPersistence.WithDetails("failed to recover session").WithCause(err)
	}
	return session, nil
}
