package command

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/storage/cts"
)

// TokenView is the printable form of a stored token.
type TokenView struct {
	ID     string            `json:"id" yaml:"id"`
	Type   string            `json:"type,omitempty" yaml:"type,omitempty"`
	ETag   string            `json:"etag,omitempty" yaml:"etag,omitempty"`
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func tokenView(t *domain.Token) TokenView {
	v := TokenView{ID: t.ID(), Type: t.Type().String(), ETag: t.ETag(), Fields: map[string]string{}}
	for _, f := range t.Fields() {
		if f == domain.FieldETag {
			continue
		}
		v.Fields[string(f)] = formatValue(t.Attribute(f))
	}
	return v
}

func partialView(p *domain.PartialToken) TokenView {
	v := TokenView{ID: p.TokenID(), ETag: p.ETag(), Fields: map[string]string{}}
	for _, f := range p.Fields() {
		switch f {
		case domain.FieldTokenID, domain.FieldETag:
		case domain.FieldTokenType:
			v.Type = p.String(f)
		default:
			v.Fields[string(f)] = formatValue(p.Value(f))
		}
	}
	return v
}

func (v TokenView) Header(bool) []string { return []string{"FIELD", "VALUE"} }

func (v TokenView) Rows(wide bool) [][]string {
	rows := [][]string{{"id", v.ID}, {"type", v.Type}, {"etag", v.ETag}}
	for _, name := range sortedKeys(v.Fields) {
		value := v.Fields[name]
		if name == string(domain.FieldBlob) && !wide {
			value = fmt.Sprintf("(%d chars base64)", len(value))
		}
		rows = append(rows, []string{name, value})
	}
	return rows
}

// TokenList is a query result.
type TokenList []TokenView

func (l TokenList) Header(wide bool) []string {
	h := []string{"ID", "TYPE", "USER", "EXPIRES"}
	if wide {
		h = append(h, "ETAG")
	}
	return h
}

func (l TokenList) Rows(wide bool) [][]string {
	rows := make([][]string, 0, len(l))
	for _, v := range l {
		row := []string{
			v.ID,
			v.Type,
			v.Fields[string(domain.FieldUserID)],
			v.Fields[string(domain.FieldExpiryDate)],
		}
		if wide {
			row = append(row, v.ETag)
		}
		rows = append(rows, row)
	}
	return rows
}

// SessionView is the printable form of a stored session.
type SessionView struct {
	ID         string            `json:"id" yaml:"id"`
	Handle     string            `json:"handle" yaml:"handle"`
	User       string            `json:"user" yaml:"user"`
	Realm      string            `json:"realm,omitempty" yaml:"realm,omitempty"`
	State      string            `json:"state" yaml:"state"`
	Created    time.Time         `json:"created" yaml:"created"`
	LastAccess time.Time         `json:"last_access" yaml:"last_access"`
	Expires    time.Time         `json:"expires" yaml:"expires"`
	Restricted []string          `json:"restricted,omitempty" yaml:"restricted,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	ETag       string            `json:"etag,omitempty" yaml:"etag,omitempty"`
}

func sessionView(s *domain.Session) SessionView {
	return SessionView{
		ID:         s.ID,
		Handle:     s.Handle,
		User:       s.UserID,
		Realm:      s.Realm,
		State:      string(s.State),
		Created:    s.CreatedAt,
		LastAccess: s.LatestAccess,
		Expires:    s.ExpiryTime(),
		Restricted: s.RestrictedIDs,
		Properties: s.Properties,
		ETag:       s.ETag,
	}
}

func (v SessionView) Header(bool) []string { return []string{"FIELD", "VALUE"} }

func (v SessionView) Rows(wide bool) [][]string {
	rows := [][]string{
		{"id", v.ID},
		{"handle", v.Handle},
		{"user", v.User},
		{"realm", v.Realm},
		{"state", v.State},
		{"created", formatTime(v.Created)},
		{"last_access", formatTime(v.LastAccess)},
		{"expires", formatTime(v.Expires)},
	}
	if len(v.Restricted) > 0 {
		rows = append(rows, []string{"restricted", strings.Join(v.Restricted, ",")})
	}
	if wide {
		rows = append(rows, []string{"etag", v.ETag})
		for _, k := range sortedKeys(v.Properties) {
			rows = append(rows, []string{"property." + k, v.Properties[k]})
		}
	}
	return rows
}

// SessionList is a list of stored sessions.
type SessionList []SessionView

func (l SessionList) Header(wide bool) []string {
	h := []string{"ID", "USER", "STATE", "EXPIRES"}
	if wide {
		h = append(h, "HANDLE", "REALM")
	}
	return h
}

func (l SessionList) Rows(wide bool) [][]string {
	rows := make([][]string, 0, len(l))
	for _, v := range l {
		row := []string{v.ID, v.User, v.State, formatTime(v.Expires)}
		if wide {
			row = append(row, v.Handle, v.Realm)
		}
		rows = append(rows, row)
	}
	return rows
}

// ChangeView is one event printed by watch.
type ChangeView struct {
	Time   time.Time         `json:"time" yaml:"time"`
	Change string            `json:"change" yaml:"change"`
	ID     string            `json:"id" yaml:"id"`
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func changeView(c cts.TokenChange, now time.Time) ChangeView {
	v := ChangeView{Time: now, Change: c.Type.String(), ID: c.TokenID}
	if c.Token != nil {
		v.Fields = partialView(c.Token).Fields
	}
	return v
}

func (v ChangeView) Header(wide bool) []string {
	if wide {
		return []string{"TIME", "CHANGE", "ID", "FIELDS"}
	}
	return []string{"TIME", "CHANGE", "ID"}
}

func (v ChangeView) Rows(wide bool) [][]string {
	row := []string{formatTime(v.Time), v.Change, v.ID}
	if wide {
		parts := make([]string, 0, len(v.Fields))
		for _, k := range sortedKeys(v.Fields) {
			parts = append(parts, k+"="+v.Fields[k])
		}
		row = append(row, strings.Join(parts, " "))
	}
	return [][]string{row}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return formatTime(val)
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
