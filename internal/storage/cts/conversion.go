// Package cts stores tokens in a directory service.
//
// Every operation is a single directory round trip. Writes use the
// directory's conditional-write and read-after-write capabilities so that
// optimistic concurrency needs no extra reads: the version stamp asserted
// on a write is the etag captured by the write that preceded it.
package cts

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

const attrObjectClass = "objectClass"

// TokenObjectClasses are the object classes of a token entry.
var TokenObjectClasses = []string{"top", "frCoreToken"}

// Conversion maps tokens to directory entries and back.
type Conversion struct {
	baseDN string
}

// NewConversion creates a conversion storing tokens directly below baseDN.
func NewConversion(baseDN string) *Conversion {
	return &Conversion{baseDN: baseDN}
}

// BaseDN returns the container DN of token entries.
func (c *Conversion) BaseDN() string { return c.baseDN }

// DN returns the entry DN of a token.
func (c *Conversion) DN(tokenID string) string {
	return domain.FieldTokenID.String() + "=" + directory.EscapeDNValue(tokenID) + "," + c.baseDN
}

// Entry converts a token to an entry. The etag is operational and never
// written.
func (c *Conversion) Entry(t *domain.Token) *directory.Entry {
	e := directory.NewEntry(c.DN(t.ID()))
	e.Put(attrObjectClass, TokenObjectClasses...)
	e.Put(domain.FieldTokenID.String(), t.ID())
	e.Put(domain.FieldTokenType.String(), t.Type().String())
	for _, f := range t.Fields() {
		if f == domain.FieldETag {
			continue
		}
		if vals := encodeField(t.Attribute(f)); len(vals) > 0 {
			e.Put(f.String(), vals...)
		}
	}
	return e
}

// TokenFromEntry converts an entry to a token. Attributes that are not
// token fields are ignored.
func (c *Conversion) TokenFromEntry(e *directory.Entry) (*domain.Token, error) {
	id := e.First(domain.FieldTokenID.String())
	if id == "" {
		return nil, domain.ErrTokenDecode.WithDetails(fmt.Sprintf("%s: missing %s", e.DN, domain.FieldTokenID))
	}
	typ, err := domain.ParseTokenType(e.First(domain.FieldTokenType.String()))
	if err != nil {
		return nil, domain.ErrTokenDecode.WithDetails(e.DN).WithCause(err)
	}

	t := domain.NewToken(id, typ)
	for _, a := range StripObjectClass(e).Attributes {
		f, err := domain.ParseField(a.Name)
		if err != nil || f == domain.FieldTokenID || f == domain.FieldTokenType {
			continue
		}
		v, err := decodeField(f, a.Values)
		if err != nil {
			return nil, domain.ErrTokenDecode.WithDetails(fmt.Sprintf("%s: %s", e.DN, f)).WithCause(err)
		}
		switch val := v.(type) {
		case string:
			t.SetString(f, val)
		case int64:
			t.SetInt(f, val)
		case []byte:
			t.SetBlob(val)
		case []string:
			t.SetMulti(f, val)
		case time.Time:
			t.SetDate(f, val)
		}
	}
	return t, nil
}

// PartialFromEntry projects an entry onto fields. An empty field list
// keeps every token field present on the entry.
func (c *Conversion) PartialFromEntry(e *directory.Entry, fields []domain.CoreTokenField) (*domain.PartialToken, error) {
	values := make(map[domain.CoreTokenField]any)
	for _, a := range StripObjectClass(e).Attributes {
		f, err := domain.ParseField(a.Name)
		if err != nil {
			continue
		}
		if len(fields) > 0 && !slices.Contains(fields, f) {
			continue
		}
		v, err := decodeField(f, a.Values)
		if err != nil {
			return nil, domain.ErrTokenDecode.WithDetails(fmt.Sprintf("%s: %s", e.DN, f)).WithCause(err)
		}
		values[f] = v
	}
	return domain.NewPartialToken(values), nil
}

// StripObjectClass returns a copy of e without its objectClass attribute.
func StripObjectClass(e *directory.Entry) *directory.Entry {
	c := e.Clone()
	c.Remove(attrObjectClass)
	return c
}

// Attributes returns the directory attribute names of fields.
func Attributes(fields []domain.CoreTokenField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	return names
}

func encodeField(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case int64:
		return []string{strconv.FormatInt(val, 10)}
	case time.Time:
		return []string{directory.FormatTime(val)}
	case []byte:
		return []string{base64.StdEncoding.EncodeToString(val)}
	case []string:
		return val
	}
	return []string{fmt.Sprint(v)}
}

func decodeField(f domain.CoreTokenField, values []string) (any, error) {
	if f == domain.FieldETag {
		return first(values), nil
	}
	switch f.Kind() {
	case domain.KindInteger:
		return strconv.ParseInt(strings.TrimSpace(first(values)), 10, 64)
	case domain.KindDate:
		return directory.ParseTime(first(values))
	case domain.KindBlob:
		return base64.StdEncoding.DecodeString(first(values))
	case domain.KindMultiString:
		return slices.Clone(values), nil
	}
	return first(values), nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
