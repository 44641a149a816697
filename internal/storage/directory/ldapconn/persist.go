package ldapconn

import (
	"context"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

type persistentSearch struct {
	resp   ldap.Response
	cancel context.CancelFunc
	ch     chan directory.Change
	stop   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func newPersistentSearch(resp ldap.Response, cancel context.CancelFunc) *persistentSearch {
	return &persistentSearch{
		resp:   resp,
		cancel: cancel,
		ch:     make(chan directory.Change),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *persistentSearch) Changes() <-chan directory.Change { return p.ch }

func (p *persistentSearch) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *persistentSearch) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()
	p.cancel()
	<-p.done
	return nil
}

func (p *persistentSearch) run() {
	defer close(p.done)
	defer close(p.ch)

	for p.resp.Next() {
		e := p.resp.Entry()
		if e == nil {
			continue
		}
		typ, ok := decodeEntryChange(p.resp.Controls())
		if !ok {
			typ = directory.ChangeModify
		}
		select {
		case p.ch <- directory.Change{Type: typ, Entry: toEntry(e)}:
		case <-p.stop:
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err := p.resp.Err(); err != nil {
		p.err = mapError(err)
	} else {
		// A persistent search never completes on its own.
		p.err = directory.NewError(directory.ServerDown, "persistent search ended by server")
	}
}
