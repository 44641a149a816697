package domain

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TokenType classifies what a stored token represents.
type TokenType int

const (
	TokenTypeSession TokenType = iota
	TokenTypeSAML2
	TokenTypeOAuth
	TokenTypeREST
	TokenTypeGeneric
	TokenTypeSessionBlacklist
	TokenTypeNotification
)

var tokenTypeNames = map[TokenType]string{
	TokenTypeSession:          "SESSION",
	TokenTypeSAML2:            "SAML2",
	TokenTypeOAuth:            "OAUTH",
	TokenTypeREST:             "REST",
	TokenTypeGeneric:          "GENERIC",
	TokenTypeSessionBlacklist: "SESSION_BLACKLIST",
	TokenTypeNotification:     "NOTIFICATION",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// ParseTokenType parses the stored name of a token type.
func ParseTokenType(s string) (TokenType, error) {
	for t, name := range tokenTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown token type %q", s))
}

// Token is a typed record persisted by the token store.
//
// Callers build a token with the Set methods and then hand it over; the
// storage layer never mutates a token it was given and always returns a
// fresh copy carrying the ETag assigned by the backend.
type Token struct {
	id    string
	typ   TokenType
	attrs map[CoreTokenField]any
}

// NewToken creates an empty token with the given identity.
func NewToken(id string, typ TokenType) *Token {
	return &Token{
		id:    id,
		typ:   typ,
		attrs: make(map[CoreTokenField]any),
	}
}

// GenerateTokenID returns a new lowercase ULID, optionally prefixed.
func GenerateTokenID(prefix string) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInvalidArgument.WithCause(err)
	}
	return prefix + strings.ToLower(id.String()), nil
}

// ID returns the token id.
func (t *Token) ID() string { return t.id }

// Type returns the token type.
func (t *Token) Type() TokenType { return t.typ }

// SetString sets a string field. An empty value removes the field.
func (t *Token) SetString(f CoreTokenField, v string) *Token {
	t.put(f, v, v == "")
	return t
}

// SetInt sets an integer field.
func (t *Token) SetInt(f CoreTokenField, v int64) *Token {
	t.put(f, v, false)
	return t
}

// SetDate sets a date field in UTC at millisecond precision, the
// precision dates are stored with. A zero time removes the field.
func (t *Token) SetDate(f CoreTokenField, v time.Time) *Token {
	t.put(f, v.UTC().Truncate(time.Millisecond), v.IsZero())
	return t
}

// SetBlob sets the binary field. A nil or empty slice removes the field.
func (t *Token) SetBlob(v []byte) *Token {
	t.put(FieldBlob, bytes.Clone(v), len(v) == 0)
	return t
}

// SetMulti sets a multi-valued field. An empty slice removes the field.
func (t *Token) SetMulti(f CoreTokenField, v []string) *Token {
	t.put(f, slices.Clone(v), len(v) == 0)
	return t
}

// SetETag sets the version stamp. An empty value removes it.
func (t *Token) SetETag(etag string) *Token {
	return t.SetString(FieldETag, etag)
}

// Remove deletes a field.
func (t *Token) Remove(f CoreTokenField) *Token {
	delete(t.attrs, f)
	return t
}

func (t *Token) put(f CoreTokenField, v any, clear bool) {
	if f == FieldTokenID || f == FieldTokenType {
		return
	}
	if clear {
		delete(t.attrs, f)
		return
	}
	t.attrs[f] = v
}

// Has reports whether the field is set.
func (t *Token) Has(f CoreTokenField) bool {
	_, ok := t.attrs[f]
	return ok
}

// Attribute returns the raw value of a field, or nil.
func (t *Token) Attribute(f CoreTokenField) any {
	switch f {
	case FieldTokenID:
		return t.id
	case FieldTokenType:
		return t.typ.String()
	}
	v := t.attrs[f]
	switch val := v.(type) {
	case []byte:
		return bytes.Clone(val)
	case []string:
		return slices.Clone(val)
	}
	return v
}

// String returns the value of a string field.
func (t *Token) String(f CoreTokenField) string {
	switch f {
	case FieldTokenID:
		return t.id
	case FieldTokenType:
		return t.typ.String()
	}
	s, _ := t.attrs[f].(string)
	return s
}

// Int returns the value of an integer field.
func (t *Token) Int(f CoreTokenField) (int64, bool) {
	v, ok := t.attrs[f].(int64)
	return v, ok
}

// Date returns the value of a date field.
func (t *Token) Date(f CoreTokenField) (time.Time, bool) {
	v, ok := t.attrs[f].(time.Time)
	return v, ok
}

// Blob returns a copy of the binary field.
func (t *Token) Blob() []byte {
	v, _ := t.attrs[FieldBlob].([]byte)
	return bytes.Clone(v)
}

// Multi returns a copy of a multi-valued field.
func (t *Token) Multi(f CoreTokenField) []string {
	v, _ := t.attrs[f].([]string)
	return slices.Clone(v)
}

// ETag returns the version stamp, empty when the token was never stored.
func (t *Token) ETag() string { return t.String(FieldETag) }

// ExpiryDate returns the token expiry, if set.
func (t *Token) ExpiryDate() (time.Time, bool) { return t.Date(FieldExpiryDate) }

// Fields returns the set fields in canonical (attribute name) order,
// excluding the identity fields.
func (t *Token) Fields() []CoreTokenField {
	fields := make([]CoreTokenField, 0, len(t.attrs))
	for f := range t.attrs {
		fields = append(fields, f)
	}
	sortFields(fields)
	return fields
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	c := NewToken(t.id, t.typ)
	for f, v := range t.attrs {
		switch val := v.(type) {
		case []byte:
			c.attrs[f] = bytes.Clone(val)
		case []string:
			c.attrs[f] = slices.Clone(val)
		default:
			c.attrs[f] = v
		}
	}
	return c
}

// WithETag returns a copy of the token carrying the given version stamp.
func (t *Token) WithETag(etag string) *Token {
	return t.Clone().SetETag(etag)
}

// Equal reports whether two tokens have the same identity and attributes,
// ETag included.
func (t *Token) Equal(o *Token) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.id == o.id && t.typ == o.typ && t.EqualAttributes(o, true)
}

// EqualAttributes compares attribute values, optionally including the ETag.
func (t *Token) EqualAttributes(o *Token, withETag bool) bool {
	count := func(tok *Token) int {
		n := len(tok.attrs)
		if !withETag && tok.Has(FieldETag) {
			n--
		}
		return n
	}
	if count(t) != count(o) {
		return false
	}
	for f, v := range t.attrs {
		if f == FieldETag && !withETag {
			continue
		}
		ov, ok := o.attrs[f]
		if !ok || !valueEqual(v, ov) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case []string:
		bv, ok := b.([]string)
		return ok && slices.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return a == b
}

func (t *Token) GoString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Token{id=%s type=%s", t.id, t.typ)
	for _, f := range t.Fields() {
		if f == FieldBlob {
			fmt.Fprintf(&b, " %s=<%d bytes>", f, len(t.attrs[f].([]byte)))
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f, t.attrs[f])
	}
	b.WriteString("}")
	return b.String()
}
