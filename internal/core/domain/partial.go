package domain

import (
	"slices"
	"time"
)

// PartialToken is a read-only projection of a stored token. Values hold
// the decoded representation of each requested field: string, int64,
// time.Time, []byte or []string depending on the field kind.
type PartialToken struct {
	values map[CoreTokenField]any
}

// NewPartialToken builds a projection from decoded values.
func NewPartialToken(values map[CoreTokenField]any) *PartialToken {
	p := &PartialToken{values: make(map[CoreTokenField]any, len(values))}
	for f, v := range values {
		p.values[f] = v
	}
	return p
}

// Fields returns the projected fields in canonical order.
func (p *PartialToken) Fields() []CoreTokenField {
	fields := make([]CoreTokenField, 0, len(p.values))
	for f := range p.values {
		fields = append(fields, f)
	}
	sortFields(fields)
	return fields
}

// Has reports whether the field is part of the projection.
func (p *PartialToken) Has(f CoreTokenField) bool {
	_, ok := p.values[f]
	return ok
}

// Value returns the raw decoded value, or nil.
func (p *PartialToken) Value(f CoreTokenField) any {
	switch v := p.values[f].(type) {
	case []string:
		return slices.Clone(v)
	case []byte:
		return slices.Clone(v)
	default:
		return v
	}
}

// String returns a string-valued field.
func (p *PartialToken) String(f CoreTokenField) string {
	s, _ := p.values[f].(string)
	return s
}

// Date returns a date-valued field.
func (p *PartialToken) Date(f CoreTokenField) (time.Time, bool) {
	t, ok := p.values[f].(time.Time)
	return t, ok
}

// Int returns an integer-valued field.
func (p *PartialToken) Int(f CoreTokenField) (int64, bool) {
	i, ok := p.values[f].(int64)
	return i, ok
}

// Multi returns a multi-valued field.
func (p *PartialToken) Multi(f CoreTokenField) []string {
	v, _ := p.values[f].([]string)
	return slices.Clone(v)
}

// TokenID is shorthand for String(FieldTokenID).
func (p *PartialToken) TokenID() string { return p.String(FieldTokenID) }

// ETag is shorthand for String(FieldETag).
func (p *PartialToken) ETag() string { return p.String(FieldETag) }
