package filter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// DirectoryVisitor translates expressions into directory filters. Dates
// are encoded as generalized time and integers in decimal.
type DirectoryVisitor struct{}

var _ Visitor[directory.Filter] = DirectoryVisitor{}

// ToDirectory translates e into a directory filter.
func ToDirectory(e Expr) (directory.Filter, error) {
	return Walk[directory.Filter](e, DirectoryVisitor{})
}

func (DirectoryVisitor) VisitAnd(subs []directory.Filter) (directory.Filter, error) {
	return directory.And(subs), nil
}

func (DirectoryVisitor) VisitOr(subs []directory.Filter) (directory.Filter, error) {
	return directory.Or(subs), nil
}

func (DirectoryVisitor) VisitNot(sub directory.Filter) (directory.Filter, error) {
	return directory.Not{Filter: sub}, nil
}

func (DirectoryVisitor) VisitEquals(f domain.CoreTokenField, v any) (directory.Filter, error) {
	s, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return directory.Equality{Attr: f.String(), Value: s}, nil
}

// VisitLessThan renders a strict comparison as (&(f=*)(!(f>=v))).
func (DirectoryVisitor) VisitLessThan(f domain.CoreTokenField, v any) (directory.Filter, error) {
	s, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return directory.And{
		directory.Present{Attr: f.String()},
		directory.Not{Filter: directory.GreaterOrEqual{Attr: f.String(), Value: s}},
	}, nil
}

func (DirectoryVisitor) VisitGreaterThan(f domain.CoreTokenField, v any) (directory.Filter, error) {
	s, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return directory.And{
		directory.Present{Attr: f.String()},
		directory.Not{Filter: directory.LessOrEqual{Attr: f.String(), Value: s}},
	}, nil
}

func (DirectoryVisitor) VisitBeginsWith(f domain.CoreTokenField, prefix string) (directory.Filter, error) {
	return directory.Prefix{Attr: f.String(), Value: prefix}, nil
}

func (DirectoryVisitor) VisitPresent(f domain.CoreTokenField) (directory.Filter, error) {
	return directory.Present{Attr: f.String()}, nil
}

func (DirectoryVisitor) VisitAll() (directory.Filter, error) {
	return directory.MatchAll, nil
}

// EncodeValue renders a filter operand as a directory attribute value.
func EncodeValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case time.Time:
		return directory.FormatTime(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	case domain.SessionState:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	}
	return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unsupported filter value %T", v))
}
