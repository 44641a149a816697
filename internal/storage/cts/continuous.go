package cts

import (
	"context"
	"slices"
	"sync"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// ChangeType is the kind of change reported to continuous query listeners.
type ChangeType int

const (
	TokenAdded ChangeType = iota + 1
	TokenModified
	TokenDeleted
)

func (c ChangeType) String() string {
	switch c {
	case TokenAdded:
		return "added"
	case TokenModified:
		return "modified"
	case TokenDeleted:
		return "deleted"
	}
	return "unknown"
}

// TokenChange is one event of a continuous query. Token holds the
// projected fields of the changed token; for deletes its last state.
type TokenChange struct {
	Type    ChangeType
	TokenID string
	Token   *domain.PartialToken
}

// Listener receives the events of a continuous query. Calls are made from
// a single goroutine, in the order the directory applied the changes.
// Listeners are compared with == by RemoveListener.
type Listener interface {
	ObjectChanged(change TokenChange)
	// ConnectionLost reports that the directory ended the subscription.
	// The query is closed and must be started again by its owner.
	ConnectionLost(err error)
}

// ContinuousQuery is a live subscription started by
// Adapter.StartContinuousQuery. It stays active until Stop is called or
// the directory ends it.
type ContinuousQuery struct {
	adapter *Adapter
	conn    directory.Conn
	search  directory.PersistentSearch
	fields  []domain.CoreTokenField

	mu        sync.Mutex
	listeners []Listener
	stopped   bool
	err       error

	done chan struct{}
}

// StartContinuousQuery subscribes listener to changes of tokens matching
// f. The subscription runs on a dedicated connection; ctx only bounds its
// establishment.
func (a *Adapter) StartContinuousQuery(ctx context.Context, f filter.TokenFilter, listener Listener) (*ContinuousQuery, error) {
	df, err := filter.ToDirectory(f.Expr)
	if err != nil {
		return nil, domain.ErrQueryFailed.WithCause(err)
	}
	fields := f.Fields
	if len(fields) == 0 {
		fields = identityAndETag
	}
	attrs := Attributes(fields)
	if !slices.Contains(fields, domain.FieldTokenID) {
		attrs = append(attrs, domain.FieldTokenID.String())
	}

	conn, err := a.factory.Create(ctx)
	if err != nil {
		return nil, a.backendError("continuous_query", "", err)
	}
	search, err := conn.Persist(context.WithoutCancel(ctx), &directory.SearchRequest{
		BaseDN:     a.conv.BaseDN(),
		Scope:      directory.ScopeOne,
		Filter:     df,
		Attributes: attrs,
	})
	if err != nil {
		_ = conn.Close()
		return nil, a.backendError("continuous_query", "", err)
	}

	q := &ContinuousQuery{
		adapter: a,
		conn:    conn,
		search:  search,
		fields:  fields,
		done:    make(chan struct{}),
	}
	if listener != nil {
		q.listeners = append(q.listeners, listener)
	}
	a.metrics.queryStarted()
	a.logger.Info("continuous query started", "filter", df.String())

	go q.run()
	return q, nil
}

// AddListener registers another listener. It receives changes from the
// next one on.
func (q *ContinuousQuery) AddListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// RemoveListener unregisters a listener.
func (q *ContinuousQuery) RemoveListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = slices.DeleteFunc(q.listeners, func(x Listener) bool { return x == l })
}

// Stop cancels the subscription and closes its connection. Listeners are
// not notified. Stop may be called from a listener.
func (q *ContinuousQuery) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	_ = q.search.Close()
	_ = q.conn.Close()
}

// Done is closed once the query has ended.
func (q *ContinuousQuery) Done() <-chan struct{} { return q.done }

// Err returns the fault that ended the query, nil while it runs or after
// Stop.
func (q *ContinuousQuery) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *ContinuousQuery) snapshot() []Listener {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.listeners)
}

func (q *ContinuousQuery) run() {
	defer close(q.done)
	defer q.adapter.metrics.queryEnded()

	for change := range q.search.Changes() {
		tc, err := q.convert(change)
		if err != nil {
			q.adapter.logger.Warn("dropping undecodable token change", "dn", change.Entry.DN, "error", err)
			continue
		}
		for _, l := range q.snapshot() {
			l.ObjectChanged(tc)
		}
	}

	q.mu.Lock()
	stopped := q.stopped
	if !stopped {
		q.stopped = true
		cause := q.search.Err()
		if cause == nil {
			cause = directory.NewError(directory.ServerDown, "persistent search closed")
		}
		q.err = domain.ErrBackendOperation.WithDetails("continuous query lost its connection").WithCause(cause)
	}
	err := q.err
	q.mu.Unlock()

	if stopped {
		return
	}
	_ = q.conn.Close()
	q.adapter.logger.Warn("continuous query ended by directory", "error", err)
	for _, l := range q.snapshot() {
		l.ConnectionLost(err)
	}
}

func (q *ContinuousQuery) convert(change directory.Change) (TokenChange, error) {
	p, err := q.adapter.conv.PartialFromEntry(change.Entry, q.fields)
	if err != nil {
		return TokenChange{}, err
	}
	tc := TokenChange{TokenID: change.Entry.First(domain.FieldTokenID.String()), Token: p}
	switch change.Type {
	case directory.ChangeAdd:
		tc.Type = TokenAdded
	case directory.ChangeDelete:
		tc.Type = TokenDeleted
	default:
		tc.Type = TokenModified
	}
	return tc, nil
}
