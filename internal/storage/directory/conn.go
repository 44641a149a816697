package directory

import (
	"context"
	"time"
)

// ETagAttribute is the operational attribute holding an entry's version.
// Servers assign a new value on every successful write and never return it
// unless it is requested by name.
const ETagAttribute = "etag"

// Assertion is the conditional-write capability: the server applies the
// request only when the stored entry has Attr equal to Value, and answers
// AssertionFailed otherwise.
type Assertion struct {
	Attr  string
	Value string
}

// Filter returns the assertion as a filter.
func (a *Assertion) Filter() Filter {
	return Equality{Attr: a.Attr, Value: a.Value}
}

// ModOp is the kind of change applied to one attribute.
type ModOp int

const (
	ModAdd ModOp = iota
	ModDelete
	ModReplace
)

func (op ModOp) String() string {
	switch op {
	case ModAdd:
		return "add"
	case ModDelete:
		return "delete"
	case ModReplace:
		return "replace"
	}
	return "unknown"
}

// Modification changes one attribute. A ModDelete without values removes
// the attribute; a ModReplace without values removes it as well.
type Modification struct {
	Op        ModOp
	Attribute Attribute
}

// AddRequest creates an entry.
type AddRequest struct {
	Entry *Entry
	// PostRead lists attributes to return as of the write.
	PostRead []string
}

// ModifyRequest applies modifications to an existing entry.
type ModifyRequest struct {
	DN       string
	Changes  []Modification
	Assert   *Assertion
	PostRead []string
	// TransactionID tags the request for audit correlation.
	TransactionID string
}

// DeleteRequest removes an entry.
type DeleteRequest struct {
	DN     string
	Assert *Assertion
}

// Result is the outcome of a successful write.
type Result struct {
	Code ResultCode
	// PostRead holds the requested attributes as of the write, nil when
	// none were requested.
	PostRead *Entry
}

// Scope is the search scope.
type Scope int

const (
	ScopeBase Scope = iota
	ScopeOne
	ScopeSub
)

// SearchRequest describes a search.
type SearchRequest struct {
	BaseDN     string
	Scope      Scope
	Filter     Filter
	Attributes []string
	SizeLimit  int           // 0 means unlimited
	TimeLimit  time.Duration // 0 means unlimited
}

// ChangeType is the kind of change reported by a persistent search.
type ChangeType int

const (
	ChangeAdd ChangeType = iota + 1
	ChangeModify
	ChangeDelete
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	}
	return "unknown"
}

// Change is one event delivered by a persistent search. For deletes Entry
// holds the last stored state.
type Change struct {
	Type  ChangeType
	Entry *Entry
}

// PersistentSearch is a live subscription to changes matching a search.
// Changes are delivered in the order the server applied them. When the
// server ends the subscription the channel is closed and Err reports why;
// a subscription closed by Close reports nil.
type PersistentSearch interface {
	Changes() <-chan Change
	Err() error
	Close() error
}

// Conn is a connection to a directory service. Implementations must be safe
// for concurrent use by multiple goroutines.
type Conn interface {
	Add(ctx context.Context, req *AddRequest) (*Result, error)
	Modify(ctx context.Context, req *ModifyRequest) (*Result, error)
	Delete(ctx context.Context, req *DeleteRequest) (*Result, error)
	// Search returns the matching entries. When the size limit is hit the
	// entries found so far are returned together with a SizeLimitExceeded
	// error.
	Search(ctx context.Context, req *SearchRequest) ([]*Entry, error)
	// Persist starts a persistent search reporting changes only.
	Persist(ctx context.Context, req *SearchRequest) (PersistentSearch, error)
	Close() error
}

// Factory creates connections and judges whether an existing one can still
// be used.
type Factory interface {
	Create(ctx context.Context) (Conn, error)
	// IsValid reports whether conn may be used; it must accept nil.
	IsValid(conn Conn) bool
}
