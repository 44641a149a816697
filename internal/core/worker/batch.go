package worker

import (
	"context"
	"sync/atomic"
)

// Stats counts the outcomes of a batch.
type Stats struct {
	Succeeded  int
	Conflicted int
	Failed     int
}

// Total is the number of resolved candidates.
func (s Stats) Total() int { return s.Succeeded + s.Conflicted + s.Failed }

type outcome int

const (
	succeeded outcome = iota
	conflicted
	failed
)

// Batch tracks the completion of one TimeoutBatch call.
type Batch struct {
	remaining  atomic.Int64
	succeeded  atomic.Int64
	conflicted atomic.Int64
	failed     atomic.Int64
	done       chan struct{}
}

func newBatch(n int) *Batch {
	b := &Batch{done: make(chan struct{})}
	b.remaining.Store(int64(n))
	if n == 0 {
		close(b.done)
	}
	return b
}

func (b *Batch) complete(o outcome) {
	switch o {
	case succeeded:
		b.succeeded.Add(1)
	case conflicted:
		b.conflicted.Add(1)
	default:
		b.failed.Add(1)
	}
	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

// Wait blocks until every candidate has resolved or ctx is done. There is
// no implicit timeout.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every candidate has resolved.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Remaining returns the number of unresolved candidates.
func (b *Batch) Remaining() int { return int(b.remaining.Load()) }

// Stats returns the outcomes so far.
func (b *Batch) Stats() Stats {
	return Stats{
		Succeeded:  int(b.succeeded.Load()),
		Conflicted: int(b.conflicted.Load()),
		Failed:     int(b.failed.Load()),
	}
}
