// Package ldapconn implements the directory contract over LDAPv3 with
// go-ldap.
//
// Conditional writes use the assertion control, read-after-write uses the
// post-read control, and change feeds use the persistent search control.
// The server must support all three.
package ldapconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// Config configures connections to an LDAP server.
type Config struct {
	URL            string
	BindDN         string
	BindPassword   string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// PersistBuffer is the response buffer of persistent searches.
	PersistBuffer int
	// TLS returns the client configuration of ldaps:// dials. It is
	// called once per connection; nil uses the go-ldap defaults.
	TLS func() *tls.Config
}

// Factory dials authenticated LDAP connections.
type Factory struct {
	cfg    Config
	logger *slog.Logger
}

var _ directory.Factory = (*Factory)(nil)

// NewFactory creates a connection factory.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PersistBuffer <= 0 {
		cfg.PersistBuffer = 256
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Create dials and binds a new connection.
func (f *Factory) Create(ctx context.Context) (directory.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	dialer := &net.Dialer{Timeout: f.cfg.DialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if f.cfg.TLS != nil {
		opts = append(opts, ldap.DialWithTLSConfig(f.cfg.TLS()))
	}
	l, err := ldap.DialURL(f.cfg.URL, opts...)
	if err != nil {
		return nil, mapError(fmt.Errorf("dial %s: %w", f.cfg.URL, err))
	}
	if f.cfg.RequestTimeout > 0 {
		l.SetTimeout(f.cfg.RequestTimeout)
	}
	if f.cfg.BindDN != "" {
		if err := l.Bind(f.cfg.BindDN, f.cfg.BindPassword); err != nil {
			l.Close()
			return nil, mapError(fmt.Errorf("bind %s: %w", f.cfg.BindDN, err))
		}
	}
	f.logger.Debug("ldap connection established", "url", f.cfg.URL, "bind_dn", f.cfg.BindDN)
	return &conn{l: l, buffer: f.cfg.PersistBuffer}, nil
}

// IsValid reports whether conn is an open connection from this package.
func (f *Factory) IsValid(c directory.Conn) bool {
	lc, ok := c.(*conn)
	return ok && lc != nil && !lc.l.IsClosing()
}

type conn struct {
	l      *ldap.Conn
	buffer int
}

func (c *conn) Add(ctx context.Context, req *directory.AddRequest) (*directory.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	add := ldap.NewAddRequest(req.Entry.DN, nil)
	for _, a := range req.Entry.Attributes {
		add.Attribute(a.Name, a.Values)
	}
	if err := c.l.Add(add); err != nil {
		return nil, mapError(err)
	}

	res := &directory.Result{Code: directory.Success}
	if len(req.PostRead) == 0 {
		return res, nil
	}
	// Add responses carry no controls in go-ldap, so read the entry back.
	entries, err := c.Search(ctx, &directory.SearchRequest{
		BaseDN:     req.Entry.DN,
		Scope:      directory.ScopeBase,
		Attributes: req.PostRead,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 {
		res.PostRead = entries[0]
	}
	return res, nil
}

func (c *conn) Modify(ctx context.Context, req *directory.ModifyRequest) (*directory.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	var controls []ldap.Control
	if req.Assert != nil {
		ac, err := assertionControl(req.Assert.Filter())
		if err != nil {
			return nil, &directory.Error{Code: directory.ProtocolError, Err: err}
		}
		controls = append(controls, ac)
	}
	if len(req.PostRead) > 0 {
		controls = append(controls, postReadControl(req.PostRead))
	}

	mod := ldap.NewModifyRequest(req.DN, controls)
	for _, m := range req.Changes {
		switch m.Op {
		case directory.ModAdd:
			mod.Add(m.Attribute.Name, m.Attribute.Values)
		case directory.ModDelete:
			mod.Delete(m.Attribute.Name, m.Attribute.Values)
		case directory.ModReplace:
			mod.Replace(m.Attribute.Name, m.Attribute.Values)
		}
	}

	mr, err := c.l.ModifyWithResult(mod)
	if err != nil {
		return nil, mapError(err)
	}
	res := &directory.Result{Code: directory.Success}
	if len(req.PostRead) > 0 {
		pr, err := decodePostRead(mr.Controls)
		if err != nil {
			return nil, &directory.Error{Code: directory.ProtocolError, Err: err}
		}
		res.PostRead = pr
	}
	return res, nil
}

func (c *conn) Delete(ctx context.Context, req *directory.DeleteRequest) (*directory.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	var controls []ldap.Control
	if req.Assert != nil {
		ac, err := assertionControl(req.Assert.Filter())
		if err != nil {
			return nil, &directory.Error{Code: directory.ProtocolError, Err: err}
		}
		controls = append(controls, ac)
	}
	if err := c.l.Del(ldap.NewDelRequest(req.DN, controls)); err != nil {
		return nil, mapError(err)
	}
	return &directory.Result{Code: directory.Success}, nil
}

func (c *conn) Search(ctx context.Context, req *directory.SearchRequest) ([]*directory.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	sr, err := c.l.Search(searchRequest(req, nil))
	var entries []*directory.Entry
	if sr != nil {
		entries = make([]*directory.Entry, 0, len(sr.Entries))
		for _, e := range sr.Entries {
			entries = append(entries, toEntry(e))
		}
	}
	if err != nil {
		return entries, mapError(err)
	}
	return entries, nil
}

func (c *conn) Persist(ctx context.Context, req *directory.SearchRequest) (directory.PersistentSearch, error) {
	if err := ctx.Err(); err != nil {
		return nil, &directory.Error{Code: directory.Canceled, Err: err}
	}
	ctx, cancel := context.WithCancel(ctx)
	resp := c.l.SearchAsync(ctx, searchRequest(req, []ldap.Control{persistentSearchControl()}), c.buffer)
	ps := newPersistentSearch(resp, cancel)
	go ps.run()
	return ps, nil
}

func (c *conn) Close() error {
	return c.l.Close()
}

func searchRequest(req *directory.SearchRequest, controls []ldap.Control) *ldap.SearchRequest {
	filter := req.Filter
	if filter == nil {
		filter = directory.MatchAll
	}
	scope := ldap.ScopeWholeSubtree
	switch req.Scope {
	case directory.ScopeBase:
		scope = ldap.ScopeBaseObject
	case directory.ScopeOne:
		scope = ldap.ScopeSingleLevel
	}
	timeLimit := 0
	if req.TimeLimit > 0 {
		timeLimit = max(1, int(req.TimeLimit/time.Second))
	}
	return ldap.NewSearchRequest(
		req.BaseDN, scope, ldap.NeverDerefAliases,
		req.SizeLimit, timeLimit, false,
		filter.String(), req.Attributes, controls,
	)
}

func toEntry(e *ldap.Entry) *directory.Entry {
	out := directory.NewEntry(e.DN)
	for _, a := range e.Attributes {
		out.Put(a.Name, a.Values...)
	}
	return out
}

// mapError converts go-ldap errors to directory errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var le *ldap.Error
	if !errors.As(err, &le) {
		return &directory.Error{Code: directory.Other, Err: err}
	}
	code := directory.ResultCode(le.ResultCode)
	if le.ResultCode == ldap.ErrorNetwork {
		code = directory.ServerDown
	}
	return &directory.Error{Code: code, Err: err}
}
