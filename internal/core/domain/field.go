package domain

import (
	"fmt"
	"sort"
	"strings"
)

// FieldKind is the value type stored in a CoreTokenField.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInteger
	KindDate
	KindBlob
	KindMultiString
)

// CoreTokenField names a token attribute. The string value is the directory
// attribute name the field is stored under.
type CoreTokenField string

// Reserved fields.
const (
	FieldTokenID    CoreTokenField = "coreTokenId"
	FieldTokenType  CoreTokenField = "coreTokenType"
	FieldUserID     CoreTokenField = "coreTokenUserId"
	FieldExpiryDate CoreTokenField = "coreTokenExpirationDate"
	FieldTTLDate    CoreTokenField = "coreTokenTtlDate"
	FieldBlob       CoreTokenField = "coreTokenObject"
	FieldETag       CoreTokenField = "etag"
)

// Generic searchable fields.
const (
	FieldString01 CoreTokenField = "coreTokenString01"
	FieldString02 CoreTokenField = "coreTokenString02"
	FieldString03 CoreTokenField = "coreTokenString03"
	FieldString04 CoreTokenField = "coreTokenString04"
	FieldString05 CoreTokenField = "coreTokenString05"
	FieldString06 CoreTokenField = "coreTokenString06"
	FieldString07 CoreTokenField = "coreTokenString07"
	FieldString08 CoreTokenField = "coreTokenString08"
	FieldString09 CoreTokenField = "coreTokenString09"
	FieldString10 CoreTokenField = "coreTokenString10"
	FieldString11 CoreTokenField = "coreTokenString11"
	FieldString12 CoreTokenField = "coreTokenString12"
	FieldString13 CoreTokenField = "coreTokenString13"
	FieldString14 CoreTokenField = "coreTokenString14"
	FieldString15 CoreTokenField = "coreTokenString15"

	FieldInteger01 CoreTokenField = "coreTokenInteger01"
	FieldInteger02 CoreTokenField = "coreTokenInteger02"
	FieldInteger03 CoreTokenField = "coreTokenInteger03"
	FieldInteger04 CoreTokenField = "coreTokenInteger04"
	FieldInteger05 CoreTokenField = "coreTokenInteger05"
	FieldInteger06 CoreTokenField = "coreTokenInteger06"
	FieldInteger07 CoreTokenField = "coreTokenInteger07"
	FieldInteger08 CoreTokenField = "coreTokenInteger08"
	FieldInteger09 CoreTokenField = "coreTokenInteger09"
	FieldInteger10 CoreTokenField = "coreTokenInteger10"

	FieldDate01 CoreTokenField = "coreTokenDate01"
	FieldDate02 CoreTokenField = "coreTokenDate02"
	FieldDate03 CoreTokenField = "coreTokenDate03"
	FieldDate04 CoreTokenField = "coreTokenDate04"
	FieldDate05 CoreTokenField = "coreTokenDate05"

	FieldMultiString01 CoreTokenField = "coreTokenMultiString01"
	FieldMultiString02 CoreTokenField = "coreTokenMultiString02"
	FieldMultiString03 CoreTokenField = "coreTokenMultiString03"
)

var fieldKinds = map[CoreTokenField]FieldKind{
	FieldTokenID:    KindString,
	FieldTokenType:  KindString,
	FieldUserID:     KindString,
	FieldExpiryDate: KindDate,
	FieldTTLDate:    KindDate,
	FieldBlob:       KindBlob,
	FieldETag:       KindString,

	FieldString01: KindString, FieldString02: KindString, FieldString03: KindString,
	FieldString04: KindString, FieldString05: KindString, FieldString06: KindString,
	FieldString07: KindString, FieldString08: KindString, FieldString09: KindString,
	FieldString10: KindString, FieldString11: KindString, FieldString12: KindString,
	FieldString13: KindString, FieldString14: KindString, FieldString15: KindString,

	FieldInteger01: KindInteger, FieldInteger02: KindInteger, FieldInteger03: KindInteger,
	FieldInteger04: KindInteger, FieldInteger05: KindInteger, FieldInteger06: KindInteger,
	FieldInteger07: KindInteger, FieldInteger08: KindInteger, FieldInteger09: KindInteger,
	FieldInteger10: KindInteger,

	FieldDate01: KindDate, FieldDate02: KindDate, FieldDate03: KindDate,
	FieldDate04: KindDate, FieldDate05: KindDate,

	FieldMultiString01: KindMultiString,
	FieldMultiString02: KindMultiString,
	FieldMultiString03: KindMultiString,
}

// Kind returns the value kind of the field.
func (f CoreTokenField) Kind() FieldKind {
	if k, ok := fieldKinds[f]; ok {
		return k
	}
	return KindString
}

// Known reports whether f is one of the defined fields.
func (f CoreTokenField) Known() bool {
	_, ok := fieldKinds[f]
	return ok
}

// String returns the attribute name.
func (f CoreTokenField) String() string { return string(f) }

// ParseField resolves an attribute name (case-insensitive) to a field.
func ParseField(name string) (CoreTokenField, error) {
	for f := range fieldKinds {
		if strings.EqualFold(string(f), name) {
			return f, nil
		}
	}
	return "", ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown token field %q", name))
}

// AllFields returns every defined field sorted by attribute name.
func AllFields() []CoreTokenField {
	fields := make([]CoreTokenField, 0, len(fieldKinds))
	for f := range fieldKinds {
		fields = append(fields, f)
	}
	sortFields(fields)
	return fields
}

func sortFields(fields []CoreTokenField) {
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
}
