package persistence

import (
	"context"
	"log/slog"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
)

// TokenStore is the token store sessions are kept in.
type TokenStore interface {
	Create(ctx context.Context, token *domain.Token) (*domain.Token, error)
	Read(ctx context.Context, tokenID string) (*domain.Token, error)
	Update(ctx context.Context, previous, updated *domain.Token) (*domain.Token, error)
	Delete(ctx context.Context, tokenID, etag string) error
	Query(ctx context.Context, f filter.TokenFilter) ([]*domain.Token, error)
}

// Store saves and recovers sessions through a TokenStore.
type Store struct {
	tokens TokenStore
	mapper TokenMapper
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(tokens TokenStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{tokens: tokens, logger: logger}
}

// Save writes s and returns a copy carrying the new ETag. A session without
// ETag is created; otherwise the write only applies if the stored token is
// still at that ETag.
func (st *Store) Save(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	t, err := st.mapper.ToToken(s)
	if err != nil {
		return nil, err
	}

	var saved *domain.Token
	if s.ETag == "" {
		saved, err = st.tokens.Create(ctx, t)
	} else {
		saved, err = st.update(ctx, s, t)
	}
	if err != nil {
		return nil, err
	}

	out := s.Clone()
	out.ETag = saved.ETag()
	st.logger.Debug("session saved", "session_id", s.ID, "etag", out.ETag)
	return out, nil
}

func (st *Store) update(ctx context.Context, s *domain.Session, t *domain.Token) (*domain.Token, error) {
	current, err := st.tokens.Read(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &domain.ConflictError{TokenID: s.ID, ExpectedETag: s.ETag}
	}
	previous := current.WithETag(s.ETag)
	return st.tokens.Update(ctx, previous, t.Clone().SetETag(""))
}

// Recover reads a session by id. A missing session is (nil, nil).
func (st *Store) Recover(ctx context.Context, sessionID string) (*domain.Session, error) {
	t, err := st.tokens.Read(ctx, sessionID)
	if err != nil || t == nil {
		return nil, err
	}
	return st.mapper.FromToken(t)
}

// RecoverByHandle finds the session with the given handle.
func (st *Store) RecoverByHandle(ctx context.Context, handle string) (*domain.Session, error) {
	return st.queryOne(ctx, filter.Equals{Field: domain.SessionFieldHandle, Value: handle})
}

// GetByRestrictedID finds the session that issued a restricted id.
func (st *Store) GetByRestrictedID(ctx context.Context, restrictedID string) (*domain.Session, error) {
	return st.queryOne(ctx, filter.Equals{Field: domain.SessionFieldRestricted, Value: restrictedID})
}

// Delete removes a session. Deleting an absent session succeeds.
func (st *Store) Delete(ctx context.Context, sessionID string) error {
	return st.tokens.Delete(ctx, sessionID, "")
}

func (st *Store) queryOne(ctx context.Context, cond filter.Expr) (*domain.Session, error) {
	f := filter.New().
		Where(filter.Equals{Field: domain.FieldTokenType, Value: domain.TokenTypeSession}, cond).
		Limit(1).
		Build()
	tokens, err := st.tokens.Query(ctx, f)
	if err != nil || len(tokens) == 0 {
		return nil, err
	}
	return st.mapper.FromToken(tokens[0])
}
