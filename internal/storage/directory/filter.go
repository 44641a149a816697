package directory

import (
	"strconv"
	"strings"
)

// Filter is a directory search filter. String renders the RFC 4515 form
// sent to LDAP servers; Match evaluates the filter against an entry for
// servers that evaluate filters in process.
type Filter interface {
	String() string
	Match(e *Entry) bool
}

// And matches when every sub-filter matches. An empty And matches all.
type And []Filter

func (f And) String() string { return "(&" + joinFilters(f) + ")" }

func (f And) Match(e *Entry) bool {
	for _, sub := range f {
		if !sub.Match(e) {
			return false
		}
	}
	return true
}

// Or matches when any sub-filter matches. An empty Or matches nothing.
type Or []Filter

func (f Or) String() string { return "(|" + joinFilters(f) + ")" }

func (f Or) Match(e *Entry) bool {
	for _, sub := range f {
		if sub.Match(e) {
			return true
		}
	}
	return false
}

// Not negates a filter.
type Not struct{ Filter Filter }

func (f Not) String() string { return "(!" + f.Filter.String() + ")" }

func (f Not) Match(e *Entry) bool { return !f.Filter.Match(e) }

// Equality matches entries with an attribute value equal to Value,
// ignoring case.
type Equality struct{ Attr, Value string }

func (f Equality) String() string {
	return "(" + f.Attr + "=" + EscapeFilterValue(f.Value) + ")"
}

func (f Equality) Match(e *Entry) bool {
	vals, _ := e.Get(f.Attr)
	for _, v := range vals {
		if strings.EqualFold(v, f.Value) {
			return true
		}
	}
	return false
}

// GreaterOrEqual matches entries with a value ordering at or after Value.
type GreaterOrEqual struct{ Attr, Value string }

func (f GreaterOrEqual) String() string {
	return "(" + f.Attr + ">=" + EscapeFilterValue(f.Value) + ")"
}

func (f GreaterOrEqual) Match(e *Entry) bool {
	vals, _ := e.Get(f.Attr)
	for _, v := range vals {
		if compareValues(v, f.Value) >= 0 {
			return true
		}
	}
	return false
}

// LessOrEqual matches entries with a value ordering at or before Value.
type LessOrEqual struct{ Attr, Value string }

func (f LessOrEqual) String() string {
	return "(" + f.Attr + "<=" + EscapeFilterValue(f.Value) + ")"
}

func (f LessOrEqual) Match(e *Entry) bool {
	vals, _ := e.Get(f.Attr)
	for _, v := range vals {
		if compareValues(v, f.Value) <= 0 {
			return true
		}
	}
	return false
}

// Present matches entries that carry the attribute.
type Present struct{ Attr string }

func (f Present) String() string { return "(" + f.Attr + "=*)" }

func (f Present) Match(e *Entry) bool { return e.Has(f.Attr) }

// Prefix matches attribute values starting with Value (substring initial).
type Prefix struct{ Attr, Value string }

func (f Prefix) String() string {
	return "(" + f.Attr + "=" + EscapeFilterValue(f.Value) + "*)"
}

func (f Prefix) Match(e *Entry) bool {
	vals, _ := e.Get(f.Attr)
	prefix := strings.ToLower(f.Value)
	for _, v := range vals {
		if strings.HasPrefix(strings.ToLower(v), prefix) {
			return true
		}
	}
	return false
}

// MatchAll is the filter (objectClass=*).
var MatchAll Filter = Present{Attr: "objectClass"}

func joinFilters(fs []Filter) string {
	var b strings.Builder
	for _, f := range fs {
		b.WriteString(f.String())
	}
	return b.String()
}

// compareValues orders integers numerically and everything else
// lexicographically; generalized time values compare correctly as strings.
func compareValues(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// EscapeFilterValue escapes an assertion value per RFC 4515.
func EscapeFilterValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '*' || c == '(' || c == ')' || c == '\\' || c == 0 || c > 0x7f:
			b.WriteByte('\\')
			b.WriteString(strconv.FormatUint(uint64(c)>>4, 16))
			b.WriteString(strconv.FormatUint(uint64(c)&0x0f, 16))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
