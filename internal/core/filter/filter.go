// Package filter describes token queries independently of the backend.
//
// A TokenFilter couples an expression tree over token fields with result
// limits and an optional projection. Backends translate the tree with a
// Visitor; DirectoryVisitor produces directory search filters.
package filter

import (
	"fmt"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// Expr is a node of a filter expression tree.
type Expr interface {
	isExpr()
}

// And matches tokens matching every sub-expression.
type And []Expr

// Or matches tokens matching any sub-expression.
type Or []Expr

// Not negates an expression.
type Not struct{ Expr Expr }

// Equals matches a field equal to Value.
type Equals struct {
	Field domain.CoreTokenField
	Value any
}

// LessThan matches a field strictly ordering before Value.
type LessThan struct {
	Field domain.CoreTokenField
	Value any
}

// GreaterThan matches a field strictly ordering after Value.
type GreaterThan struct {
	Field domain.CoreTokenField
	Value any
}

// BeginsWith matches a string field starting with Prefix.
type BeginsWith struct {
	Field  domain.CoreTokenField
	Prefix string
}

// Present matches tokens that carry the field.
type Present struct{ Field domain.CoreTokenField }

// All matches every token.
type All struct{}

func (And) isExpr()         {}
func (Or) isExpr()          {}
func (Not) isExpr()         {}
func (Equals) isExpr()      {}
func (LessThan) isExpr()    {}
func (GreaterThan) isExpr() {}
func (BeginsWith) isExpr()  {}
func (Present) isExpr()     {}
func (All) isExpr()         {}

// TokenFilter is a token query.
type TokenFilter struct {
	Expr Expr
	// SizeLimit bounds the number of results; 0 means unlimited.
	SizeLimit int
	// TimeLimit bounds the server-side search time; 0 means unlimited.
	TimeLimit time.Duration
	// Fields lists the fields to return for partial queries.
	Fields []domain.CoreTokenField
}

// Visitor translates an expression tree into a backend representation.
type Visitor[R any] interface {
	VisitAnd(subs []R) (R, error)
	VisitOr(subs []R) (R, error)
	VisitNot(sub R) (R, error)
	VisitEquals(f domain.CoreTokenField, v any) (R, error)
	VisitLessThan(f domain.CoreTokenField, v any) (R, error)
	VisitGreaterThan(f domain.CoreTokenField, v any) (R, error)
	VisitBeginsWith(f domain.CoreTokenField, prefix string) (R, error)
	VisitPresent(f domain.CoreTokenField) (R, error)
	VisitAll() (R, error)
}

// Walk visits e depth first. A nil expression is visited as All.
func Walk[R any](e Expr, v Visitor[R]) (R, error) {
	var zero R
	switch n := e.(type) {
	case nil, All:
		return v.VisitAll()
	case And:
		subs, err := walkAll(n, v)
		if err != nil {
			return zero, err
		}
		return v.VisitAnd(subs)
	case Or:
		subs, err := walkAll(n, v)
		if err != nil {
			return zero, err
		}
		return v.VisitOr(subs)
	case Not:
		sub, err := Walk(n.Expr, v)
		if err != nil {
			return zero, err
		}
		return v.VisitNot(sub)
	case Equals:
		return v.VisitEquals(n.Field, n.Value)
	case LessThan:
		return v.VisitLessThan(n.Field, n.Value)
	case GreaterThan:
		return v.VisitGreaterThan(n.Field, n.Value)
	case BeginsWith:
		return v.VisitBeginsWith(n.Field, n.Prefix)
	case Present:
		return v.VisitPresent(n.Field)
	}
	return zero, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unsupported filter node %T", e))
}

func walkAll[R any](exprs []Expr, v Visitor[R]) ([]R, error) {
	out := make([]R, 0, len(exprs))
	for _, e := range exprs {
		r, err := Walk(e, v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Builder assembles a TokenFilter.
type Builder struct {
	f     TokenFilter
	exprs []Expr
}

// New starts a filter. Expressions added with Where are combined with And.
func New() *Builder {
	return &Builder{}
}

// Where adds conditions that must all hold.
func (b *Builder) Where(exprs ...Expr) *Builder {
	b.exprs = append(b.exprs, exprs...)
	return b
}

// Limit sets the maximum number of results.
func (b *Builder) Limit(n int) *Builder {
	b.f.SizeLimit = n
	return b
}

// Timeout sets the search time limit.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.f.TimeLimit = d
	return b
}

// Returning sets the projected fields.
func (b *Builder) Returning(fields ...domain.CoreTokenField) *Builder {
	b.f.Fields = append(b.f.Fields, fields...)
	return b
}

// Build returns the filter.
func (b *Builder) Build() TokenFilter {
	f := b.f
	switch len(b.exprs) {
	case 0:
		f.Expr = All{}
	case 1:
		f.Expr = b.exprs[0]
	default:
		f.Expr = And(append([]Expr(nil), b.exprs...))
	}
	f.Fields = append([]domain.CoreTokenField(nil), f.Fields...)
	return f
}
