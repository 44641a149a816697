// Package directory defines the protocol-neutral contract between the token
// store and a directory service.
//
// The contract models what the token store needs from an LDAP-style server:
// entries addressed by DN, add/modify/delete/search requests, and two write
// capabilities that make optimistic concurrency possible in one round trip:
//
//   - conditional write: the request carries an Assertion that must hold on
//     the stored entry, otherwise the server answers AssertionFailed and
//     applies nothing
//   - read-after-write: the request lists PostRead attributes and the
//     result carries the entry's values for them as of the write
//
// Persistent search delivers server-pushed changes for a search request.
package directory

import (
	"slices"
	"strings"
)

// Attribute is a named, ordered set of values.
type Attribute struct {
	Name   string
	Values []string
}

// Entry is a directory entry. Attribute names are matched
// case-insensitively; attribute order is preserved.
type Entry struct {
	DN         string
	Attributes []Attribute
}

// NewEntry creates an empty entry.
func NewEntry(dn string) *Entry {
	return &Entry{DN: dn}
}

func (e *Entry) index(name string) int {
	for i := range e.Attributes {
		if strings.EqualFold(e.Attributes[i].Name, name) {
			return i
		}
	}
	return -1
}

// Get returns the values of an attribute.
func (e *Entry) Get(name string) ([]string, bool) {
	if i := e.index(name); i >= 0 {
		return e.Attributes[i].Values, true
	}
	return nil, false
}

// First returns the first value of an attribute, or "".
func (e *Entry) First(name string) string {
	vals, _ := e.Get(name)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Has reports whether the attribute is present.
func (e *Entry) Has(name string) bool {
	return e.index(name) >= 0
}

// Put replaces the values of an attribute, appending it if new.
// Putting no values removes the attribute.
func (e *Entry) Put(name string, values ...string) {
	if len(values) == 0 {
		e.Remove(name)
		return
	}
	if i := e.index(name); i >= 0 {
		e.Attributes[i].Values = slices.Clone(values)
		return
	}
	e.Attributes = append(e.Attributes, Attribute{Name: name, Values: slices.Clone(values)})
}

// Remove deletes an attribute.
func (e *Entry) Remove(name string) {
	if i := e.index(name); i >= 0 {
		e.Attributes = slices.Delete(e.Attributes, i, i+1)
	}
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := &Entry{DN: e.DN, Attributes: make([]Attribute, len(e.Attributes))}
	for i, a := range e.Attributes {
		c.Attributes[i] = Attribute{Name: a.Name, Values: slices.Clone(a.Values)}
	}
	return c
}

// Project returns a copy restricted to the named attributes. The name "*"
// selects every user attribute; names listed explicitly are always kept.
func (e *Entry) Project(names []string, operational []string) *Entry {
	if len(names) == 0 {
		names = []string{"*"}
	}
	all := slices.Contains(names, "*")
	c := &Entry{DN: e.DN}
	for _, a := range e.Attributes {
		explicit := slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, a.Name) })
		isOperational := slices.ContainsFunc(operational, func(n string) bool { return strings.EqualFold(n, a.Name) })
		if explicit || (all && !isOperational) {
			c.Attributes = append(c.Attributes, Attribute{Name: a.Name, Values: slices.Clone(a.Values)})
		}
	}
	return c
}

// NormalizeDN lowercases a DN and strips whitespace around separators so it
// can be used as a lookup key.
func NormalizeDN(dn string) string {
	parts := SplitDN(dn)
	for i, p := range parts {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			parts[i] = strings.ToLower(strings.TrimSpace(p))
			continue
		}
		parts[i] = strings.ToLower(strings.TrimSpace(name)) + "=" + strings.ToLower(strings.TrimSpace(value))
	}
	return strings.Join(parts, ",")
}

// SplitDN splits a DN into RDNs, honoring backslash escapes.
func SplitDN(dn string) []string {
	var (
		parts   []string
		current strings.Builder
		escaped bool
	)
	for _, r := range dn {
		switch {
		case escaped:
			current.WriteRune('\\')
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 || len(parts) > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// ParentDN returns the DN without its leftmost RDN.
func ParentDN(dn string) string {
	parts := SplitDN(dn)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], ",")
}

// EscapeDNValue escapes an attribute value for use inside an RDN.
func EscapeDNValue(v string) string {
	var b strings.Builder
	for i, r := range v {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';', '=':
			b.WriteRune('\\')
		case '#':
			if i == 0 {
				b.WriteRune('\\')
			}
		case ' ':
			if i == 0 || i == len(v)-1 {
				b.WriteRune('\\')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
