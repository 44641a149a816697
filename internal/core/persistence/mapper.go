package persistence

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// sessionBlob holds the session state that is not searchable.
type sessionBlob struct {
	CreatedAt  int64             `cbor:"1,keyasint"` // unix milliseconds
	MaxSession time.Duration     `cbor:"2,keyasint"`
	MaxIdle    time.Duration     `cbor:"3,keyasint"`
	Properties map[string]string `cbor:"4,keyasint,omitempty"`
}

// TokenMapper converts sessions to SESSION tokens and back.
type TokenMapper struct{}

// ToToken maps s. The session's ETag is carried over.
func (TokenMapper) ToToken(s *domain.Session) (*domain.Token, error) {
	blob, err := cbor.Marshal(sessionBlob{
		CreatedAt:  s.CreatedAt.UnixMilli(),
		MaxSession: s.MaxSession,
		MaxIdle:    s.MaxIdle,
		Properties: s.Properties,
	})
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("session " + s.ID).WithCause(err)
	}

	t := domain.NewToken(s.ID, domain.TokenTypeSession).
		SetString(domain.SessionFieldSessionID, s.ID).
		SetString(domain.SessionFieldHandle, s.Handle).
		SetString(domain.SessionFieldState, string(s.State)).
		SetString(domain.SessionFieldRealm, s.Realm).
		SetString(domain.FieldUserID, s.UserID).
		SetDate(domain.SessionFieldLatestAccess, s.LatestAccess).
		SetDate(domain.SessionFieldMaxExpiry, s.MaxExpiry()).
		SetDate(domain.FieldExpiryDate, s.ExpiryTime()).
		SetMulti(domain.SessionFieldRestricted, s.RestrictedIDs).
		SetBlob(blob).
		SetETag(s.ETag)
	if s.MaxIdle > 0 {
		t.SetDate(domain.SessionFieldIdleExpiry, s.IdleExpiry())
	}
	return t, nil
}

// FromToken maps a stored SESSION token back to a session.
func (TokenMapper) FromToken(t *domain.Token) (*domain.Session, error) {
	if t.Type() != domain.TokenTypeSession {
		return nil, domain.ErrTokenDecode.WithDetails(fmt.Sprintf("token %s is a %s token", t.ID(), t.Type()))
	}
	var blob sessionBlob
	if err := cbor.Unmarshal(t.Blob(), &blob); err != nil {
		return nil, domain.ErrTokenDecode.WithDetails("session " + t.ID()).WithCause(err)
	}

	s := &domain.Session{
		ID:            t.ID(),
		Handle:        t.String(domain.SessionFieldHandle),
		RestrictedIDs: t.Multi(domain.SessionFieldRestricted),
		UserID:        t.String(domain.FieldUserID),
		Realm:         t.String(domain.SessionFieldRealm),
		State:         domain.SessionState(t.String(domain.SessionFieldState)),
		CreatedAt:     time.UnixMilli(blob.CreatedAt).UTC(),
		MaxSession:    blob.MaxSession,
		MaxIdle:       blob.MaxIdle,
		Properties:    blob.Properties,
		ETag:          t.ETag(),
	}
	if id := t.String(domain.SessionFieldSessionID); id != "" {
		s.ID = id
	}
	s.LatestAccess, _ = t.Date(domain.SessionFieldLatestAccess)
	if s.Properties == nil {
		s.Properties = make(map[string]string)
	}
	return s, nil
}
