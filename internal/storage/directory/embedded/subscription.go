package embedded

import (
	"sync"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

var errOverflow = directory.NewError(directory.Busy, "persistent search fell behind")

// subscription is a persistent search. Changes are offered by the writer
// while it holds the server write lock, so every subscriber sees them in
// commit order.
type subscription struct {
	conn   *conn
	base   string
	scope  directory.Scope
	filter directory.Filter
	attrs  []string

	mu     sync.Mutex
	ch     chan directory.Change
	done   bool
	err    error
	stopFn func() bool
}

var _ directory.PersistentSearch = (*subscription)(nil)

func newSubscription(c *conn, req *directory.SearchRequest, buffer int) *subscription {
	filter := req.Filter
	if filter == nil {
		filter = directory.MatchAll
	}
	return &subscription{
		conn:   c,
		base:   directory.NormalizeDN(req.BaseDN),
		scope:  req.Scope,
		filter: filter,
		attrs:  req.Attributes,
		ch:     make(chan directory.Change, buffer),
	}
}

func (s *subscription) Changes() <-chan directory.Change { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

// finish ends the subscription with a server-side cause.
func (s *subscription) finish(cause error) {
	s.end(cause)
}

func (s *subscription) setStop(stop func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		stop()
		return
	}
	s.stopFn = stop
}

func (s *subscription) end(cause error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.closeLocked(cause)
	stop := s.stopFn
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.conn.removeSearch(s)
	s.conn.srv.unsubscribe(s)
}

func (s *subscription) closeLocked(cause error) {
	s.done = true
	s.err = cause
	close(s.ch)
}

// offer delivers a change without blocking and reports false when the
// buffer is full.
func (s *subscription) offer(change directory.Change) bool {
	if !s.matches(change.Entry) {
		return true
	}
	projected := directory.Change{
		Type:  change.Type,
		Entry: change.Entry.Project(s.attrs, operationalAttributes),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return true
	}
	select {
	case s.ch <- projected:
		return true
	default:
		return false
	}
}

func (s *subscription) matches(e *directory.Entry) bool {
	return inScope(directory.NormalizeDN(e.DN), s.base, s.scope) && s.filter.Match(e)
}

func (s *Server) subscribe(sub *subscription) {
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()
	s.metrics.searchStarted()
}

func (s *Server) unsubscribe(sub *subscription) {
	s.subsMu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	s.subsMu.Unlock()
	if ok {
		s.metrics.searchEnded()
	}
}

// broadcast must be called with writeMu held.
func (s *Server) broadcast(change directory.Change) {
	s.subsMu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		if !sub.offer(change) {
			s.logger.Warn("dropping slow persistent search", "base", sub.base)
			sub.finish(errOverflow)
		}
	}
}
