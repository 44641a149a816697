package embedded

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

var operationalAttributes = []string{directory.ETagAttribute}

// conn is a lightweight handle on a Server.
type conn struct {
	srv    *Server
	closed atomic.Bool

	mu       sync.Mutex
	searches []*subscription
}

var _ directory.Conn = (*conn)(nil)

func (c *conn) isClosed() bool { return c.closed.Load() }

func (c *conn) check(ctx context.Context) error {
	if c.closed.Load() || c.srv.closed.Load() {
		return directory.NewError(directory.ServerDown, "connection closed")
	}
	if err := ctx.Err(); err != nil {
		return &directory.Error{Code: directory.Canceled, Err: err}
	}
	return nil
}

func (c *conn) Add(ctx context.Context, req *directory.AddRequest) (res *directory.Result, err error) {
	defer func() { c.srv.metrics.observe("add", err) }()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if req.Entry == nil || req.Entry.DN == "" {
		return nil, directory.NewError(directory.ProtocolError, "add: entry DN is required")
	}
	if req.Entry.Has(directory.ETagAttribute) {
		return nil, directory.NewError(directory.UnwillingToPerform, "%s is not user-modifiable", directory.ETagAttribute)
	}

	entry := req.Entry.Clone()
	entry.Put(directory.ETagAttribute, uuid.NewString())

	s := c.srv
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.load(txn, entry.DN)
		if err != nil {
			return err
		}
		if existing != nil {
			return directory.NewError(directory.EntryAlreadyExists, "%s", entry.DN)
		}
		return s.store(txn, entry)
	})
	if err != nil {
		return nil, wrapBadger(err)
	}

	s.broadcast(directory.Change{Type: directory.ChangeAdd, Entry: entry})
	return result(entry, req.PostRead), nil
}

func (c *conn) Modify(ctx context.Context, req *directory.ModifyRequest) (res *directory.Result, err error) {
	defer func() { c.srv.metrics.observe("modify", err) }()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	for _, m := range req.Changes {
		if strings.EqualFold(m.Attribute.Name, directory.ETagAttribute) {
			return nil, directory.NewError(directory.UnwillingToPerform, "%s is not user-modifiable", directory.ETagAttribute)
		}
	}

	s := c.srv
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updated *directory.Entry
	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.load(txn, req.DN)
		if err != nil {
			return err
		}
		if existing == nil {
			return directory.NewError(directory.NoSuchObject, "%s", req.DN)
		}
		if req.Assert != nil && !req.Assert.Filter().Match(existing) {
			return directory.NewError(directory.AssertionFailed, "%s", req.DN)
		}
		updated = existing.Clone()
		for _, m := range req.Changes {
			apply(updated, m)
		}
		updated.Put(directory.ETagAttribute, uuid.NewString())
		return s.store(txn, updated)
	})
	if err != nil {
		return nil, wrapBadger(err)
	}

	s.broadcast(directory.Change{Type: directory.ChangeModify, Entry: updated})
	return result(updated, req.PostRead), nil
}

func (c *conn) Delete(ctx context.Context, req *directory.DeleteRequest) (res *directory.Result, err error) {
	defer func() { c.srv.metrics.observe("delete", err) }()
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	s := c.srv
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var removed *directory.Entry
	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.load(txn, req.DN)
		if err != nil {
			return err
		}
		if existing == nil {
			return directory.NewError(directory.NoSuchObject, "%s", req.DN)
		}
		if req.Assert != nil && !req.Assert.Filter().Match(existing) {
			return directory.NewError(directory.AssertionFailed, "%s", req.DN)
		}
		removed = existing
		return txn.Delete(entryKey(req.DN))
	})
	if err != nil {
		return nil, wrapBadger(err)
	}

	s.broadcast(directory.Change{Type: directory.ChangeDelete, Entry: removed})
	return &directory.Result{Code: directory.Success}, nil
}

func (c *conn) Search(ctx context.Context, req *directory.SearchRequest) (entries []*directory.Entry, err error) {
	defer func() { c.srv.metrics.observe("search", err) }()
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	s := c.srv
	base := directory.NormalizeDN(req.BaseDN)
	filter := req.Filter
	if filter == nil {
		filter = directory.MatchAll
	}
	var deadline time.Time
	if req.TimeLimit > 0 {
		deadline = time.Now().Add(req.TimeLimit)
	}

	if req.Scope == directory.ScopeBase {
		var e *directory.Entry
		if err := s.db.View(func(txn *badger.Txn) error {
			var err error
			e, err = s.load(txn, req.BaseDN)
			return err
		}); err != nil {
			return nil, wrapBadger(err)
		}
		if e == nil {
			return nil, directory.NewError(directory.NoSuchObject, "%s", req.BaseDN)
		}
		if filter.Match(e) {
			entries = append(entries, e.Project(req.Attributes, operationalAttributes))
		}
		return entries, nil
	}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return &directory.Error{Code: directory.Canceled, Err: err}
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return directory.NewError(directory.TimeLimitExceeded, "search under %s", req.BaseDN)
			}
			key := string(it.Item().Key()[len(entryPrefix):])
			if !inScope(key, base, req.Scope) {
				continue
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, expiresAt, err := decodeEntry(data)
			if err != nil {
				return err
			}
			if s.expired(expiresAt) || !filter.Match(e) {
				continue
			}
			if req.SizeLimit > 0 && len(entries) >= req.SizeLimit {
				return directory.NewError(directory.SizeLimitExceeded, "more than %d entries", req.SizeLimit)
			}
			entries = append(entries, e.Project(req.Attributes, operationalAttributes))
		}
		return nil
	})
	if err != nil {
		return entries, wrapBadger(err)
	}
	return entries, nil
}

func (c *conn) Persist(ctx context.Context, req *directory.SearchRequest) (directory.PersistentSearch, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	sub := newSubscription(c, req, c.srv.cfg.SubscriberBuffer)

	c.mu.Lock()
	c.searches = append(c.searches, sub)
	c.mu.Unlock()

	c.srv.subscribe(sub)
	sub.setStop(context.AfterFunc(ctx, func() {
		sub.finish(&directory.Error{Code: directory.Canceled, Err: ctx.Err()})
	}))
	return sub, nil
}

func (c *conn) Close() error {
	c.drop(nil)
	return nil
}

// drop closes the handle and ends its persistent searches with cause.
func (c *conn) drop(cause error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	searches := c.searches
	c.searches = nil
	c.mu.Unlock()

	if cause == nil {
		cause = directory.NewError(directory.ServerDown, "connection closed")
	}
	for _, sub := range searches {
		sub.finish(cause)
	}
	c.srv.forget(c)
}

func (c *conn) removeSearch(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.searches, sub); i >= 0 {
		c.searches = slices.Delete(c.searches, i, i+1)
	}
}

func inScope(dn, base string, scope directory.Scope) bool {
	switch scope {
	case directory.ScopeBase:
		return dn == base
	case directory.ScopeOne:
		return directory.ParentDN(dn) == base
	default:
		return dn == base || base == "" || strings.HasSuffix(dn, ","+base)
	}
}

func apply(e *directory.Entry, m directory.Modification) {
	name := m.Attribute.Name
	switch m.Op {
	case directory.ModReplace:
		e.Put(name, m.Attribute.Values...)
	case directory.ModAdd:
		current, _ := e.Get(name)
		merged := slices.Clone(current)
		for _, v := range m.Attribute.Values {
			if !slices.Contains(merged, v) {
				merged = append(merged, v)
			}
		}
		e.Put(name, merged...)
	case directory.ModDelete:
		if len(m.Attribute.Values) == 0 {
			e.Remove(name)
			return
		}
		current, _ := e.Get(name)
		kept := slices.DeleteFunc(slices.Clone(current), func(v string) bool {
			return slices.Contains(m.Attribute.Values, v)
		})
		e.Put(name, kept...)
	}
}

func result(e *directory.Entry, postRead []string) *directory.Result {
	res := &directory.Result{Code: directory.Success}
	if len(postRead) > 0 {
		res.PostRead = e.Project(postRead, operationalAttributes)
	}
	return res
}

func wrapBadger(err error) error {
	if err == nil {
		return nil
	}
	var de *directory.Error
	if errors.As(err, &de) {
		return err
	}
	return &directory.Error{Code: directory.OperationsError, Message: "storage", Err: err}
}
