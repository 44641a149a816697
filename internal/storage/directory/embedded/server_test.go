package embedded

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

const baseDN = "ou=tokens,dc=example,dc=com"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now().UTC()}
	cfg := DefaultConfig("")
	cfg.Now = clock.Now
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, clock
}

func dial(t *testing.T, srv *Server) directory.Conn {
	t.Helper()
	c, err := srv.Dial()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func tokenEntry(id string) *directory.Entry {
	e := directory.NewEntry("coreTokenId=" + id + "," + baseDN)
	e.Put("objectClass", "top", "frCoreToken")
	e.Put("coreTokenId", id)
	e.Put("coreTokenType", "SESSION")
	return e
}

func readBase(t *testing.T, c directory.Conn, dn string, attrs ...string) (*directory.Entry, error) {
	t.Helper()
	entries, err := c.Search(context.Background(), &directory.SearchRequest{
		BaseDN:     dn,
		Scope:      directory.ScopeBase,
		Attributes: attrs,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		t.Fatalf("base search returned %d entries", len(entries))
	}
	return entries[0], nil
}

func TestServer_AddAndRead(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()

	res, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1"), PostRead: []string{"etag"}})
	if err != nil {
		t.Fatal(err)
	}
	etag := res.PostRead.First("etag")
	if etag == "" {
		t.Fatal("post-read should return the assigned etag")
	}

	e, err := readBase(t, c, "coreTokenId=t1,"+baseDN)
	if err != nil {
		t.Fatal(err)
	}
	if e.Has("etag") {
		t.Error("etag should only be returned when requested")
	}
	if e.First("coreTokenType") != "SESSION" {
		t.Errorf("coreTokenType = %q, want SESSION", e.First("coreTokenType"))
	}

	e, err = readBase(t, c, "COREtokenId=t1,"+baseDN, "*", "etag")
	if err != nil {
		t.Fatal(err)
	}
	if e.First("etag") != etag {
		t.Errorf("etag = %q, want %q", e.First("etag"), etag)
	}

	_, err = c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1")})
	if !directory.IsCode(err, directory.EntryAlreadyExists) {
		t.Errorf("duplicate add error = %v, want EntryAlreadyExists", err)
	}

	_, err = readBase(t, c, "coreTokenId=missing,"+baseDN)
	if !directory.IsCode(err, directory.NoSuchObject) {
		t.Errorf("missing read error = %v, want NoSuchObject", err)
	}
}

func TestServer_ConditionalModify(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()
	dn := "coreTokenId=t1," + baseDN

	res, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1"), PostRead: []string{"etag"}})
	if err != nil {
		t.Fatal(err)
	}
	v1 := res.PostRead.First("etag")

	change := []directory.Modification{{
		Op:        directory.ModReplace,
		Attribute: directory.Attribute{Name: "coreTokenString01", Values: []string{"a"}},
	}}

	res, err = c.Modify(ctx, &directory.ModifyRequest{
		DN: dn, Changes: change, Assert: &directory.Assertion{Attr: "etag", Value: v1}, PostRead: []string{"etag"},
	})
	if err != nil {
		t.Fatal(err)
	}
	v2 := res.PostRead.First("etag")
	if v2 == "" || v2 == v1 {
		t.Fatalf("etag after modify = %q, want a new value", v2)
	}

	_, err = c.Modify(ctx, &directory.ModifyRequest{
		DN:      dn,
		Changes: []directory.Modification{{Op: directory.ModReplace, Attribute: directory.Attribute{Name: "coreTokenString01", Values: []string{"stale"}}}},
		Assert:  &directory.Assertion{Attr: "etag", Value: v1},
	})
	if !directory.IsCode(err, directory.AssertionFailed) {
		t.Fatalf("stale modify error = %v, want AssertionFailed", err)
	}
	e, _ := readBase(t, c, dn)
	if e.First("coreTokenString01") != "a" {
		t.Errorf("failed assertion must not apply changes, got %q", e.First("coreTokenString01"))
	}

	_, err = c.Modify(ctx, &directory.ModifyRequest{
		DN:      dn,
		Changes: []directory.Modification{{Op: directory.ModReplace, Attribute: directory.Attribute{Name: "etag", Values: []string{"x"}}}},
	})
	if !directory.IsCode(err, directory.UnwillingToPerform) {
		t.Errorf("etag write error = %v, want UnwillingToPerform", err)
	}

	_, err = c.Modify(ctx, &directory.ModifyRequest{DN: "coreTokenId=nope," + baseDN, Changes: change})
	if !directory.IsCode(err, directory.NoSuchObject) {
		t.Errorf("modify missing error = %v, want NoSuchObject", err)
	}
}

func TestServer_ModifyOperations(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()
	dn := "coreTokenId=t1," + baseDN

	e := tokenEntry("t1")
	e.Put("coreTokenMultiString01", "a", "b")
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: e}); err != nil {
		t.Fatal(err)
	}

	_, err := c.Modify(ctx, &directory.ModifyRequest{DN: dn, Changes: []directory.Modification{
		{Op: directory.ModAdd, Attribute: directory.Attribute{Name: "coreTokenMultiString01", Values: []string{"b", "c"}}},
		{Op: directory.ModDelete, Attribute: directory.Attribute{Name: "coreTokenMultiString01", Values: []string{"a"}}},
		{Op: directory.ModDelete, Attribute: directory.Attribute{Name: "coreTokenType"}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := readBase(t, c, dn)
	vals, _ := got.Get("coreTokenMultiString01")
	if len(vals) != 2 || vals[0] != "b" || vals[1] != "c" {
		t.Errorf("coreTokenMultiString01 = %v, want [b c]", vals)
	}
	if got.Has("coreTokenType") {
		t.Error("delete without values should remove the attribute")
	}
}

func TestServer_Delete(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()
	dn := "coreTokenId=t1," + baseDN

	if _, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1")}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Delete(ctx, &directory.DeleteRequest{DN: dn, Assert: &directory.Assertion{Attr: "etag", Value: "wrong"}})
	if !directory.IsCode(err, directory.AssertionFailed) {
		t.Fatalf("delete with wrong etag = %v, want AssertionFailed", err)
	}
	if _, err := c.Delete(ctx, &directory.DeleteRequest{DN: dn}); err != nil {
		t.Fatal(err)
	}
	_, err = c.Delete(ctx, &directory.DeleteRequest{DN: dn})
	if !directory.IsCode(err, directory.NoSuchObject) {
		t.Errorf("second delete error = %v, want NoSuchObject", err)
	}
}

func TestServer_TTL(t *testing.T) {
	srv, clock := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()

	e := tokenEntry("t1")
	e.Put("coreTokenTtlDate", directory.FormatTime(clock.Now().Add(time.Minute)))
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: e}); err != nil {
		t.Fatal(err)
	}
	if _, err := readBase(t, c, e.DN); err != nil {
		t.Fatalf("entry should be visible before its TTL: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if _, err := readBase(t, c, e.DN); !directory.IsCode(err, directory.NoSuchObject) {
		t.Fatalf("expired read error = %v, want NoSuchObject", err)
	}
	entries, err := c.Search(ctx, &directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expired entry returned by search: %v", entries)
	}
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1")}); err != nil {
		t.Fatalf("add over an expired entry: %v", err)
	}

	bad := tokenEntry("t2")
	bad.Put("coreTokenTtlDate", "soon")
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: bad}); !directory.IsCode(err, directory.ProtocolError) {
		t.Errorf("invalid TTL error = %v, want ProtocolError", err)
	}
}

func TestServer_SearchScopeAndLimits(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry(id)}); err != nil {
			t.Fatal(err)
		}
	}
	other := directory.NewEntry("coreTokenId=x,ou=other,dc=example,dc=com")
	other.Put("objectClass", "top")
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: other}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		req   directory.SearchRequest
		count int
	}{
		{"one level", directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne}, 3},
		{"subtree", directory.SearchRequest{BaseDN: "dc=example,dc=com", Scope: directory.ScopeSub}, 4},
		{"filtered", directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne, Filter: directory.Equality{Attr: "coreTokenId", Value: "b"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := c.Search(ctx, &tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != tt.count {
				t.Errorf("got %d entries, want %d", len(entries), tt.count)
			}
		})
	}

	entries, err := c.Search(ctx, &directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne, SizeLimit: 2})
	if !directory.IsCode(err, directory.SizeLimitExceeded) {
		t.Fatalf("size limited search error = %v, want SizeLimitExceeded", err)
	}
	if len(entries) != 2 {
		t.Errorf("size limited search returned %d entries, want 2", len(entries))
	}

	entries, err = c.Search(ctx, &directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne, Attributes: []string{"coreTokenId"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries[0].Attributes) != 1 {
		t.Errorf("projection returned %v", entries[0].Attributes)
	}
}

func nextChange(t *testing.T, ps directory.PersistentSearch) directory.Change {
	t.Helper()
	select {
	case ch, ok := <-ps.Changes():
		if !ok {
			t.Fatalf("persistent search closed: %v", ps.Err())
		}
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return directory.Change{}
}

func waitClosed(t *testing.T, ps directory.PersistentSearch) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ps.Changes():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("persistent search not closed")
		}
	}
}

func TestServer_PersistentSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx := context.Background()

	ps, err := c.Persist(ctx, &directory.SearchRequest{
		BaseDN:     baseDN,
		Scope:      directory.ScopeOne,
		Filter:     directory.Equality{Attr: "coreTokenType", Value: "SESSION"},
		Attributes: []string{"coreTokenId", "etag"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Close()

	dn := "coreTokenId=t1," + baseDN
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1")}); err != nil {
		t.Fatal(err)
	}
	other := tokenEntry("t2")
	other.Put("coreTokenType", "OAUTH")
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: other}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Modify(ctx, &directory.ModifyRequest{DN: dn, Changes: []directory.Modification{
		{Op: directory.ModReplace, Attribute: directory.Attribute{Name: "coreTokenString01", Values: []string{"x"}}},
	}}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Delete(ctx, &directory.DeleteRequest{DN: dn}); err != nil {
		t.Fatal(err)
	}

	want := []directory.ChangeType{directory.ChangeAdd, directory.ChangeModify, directory.ChangeDelete}
	for i, typ := range want {
		ch := nextChange(t, ps)
		if ch.Type != typ {
			t.Fatalf("change %d type = %v, want %v", i, ch.Type, typ)
		}
		if ch.Entry.First("coreTokenId") != "t1" || ch.Entry.First("etag") == "" {
			t.Fatalf("change %d entry = %v", i, ch.Entry.Attributes)
		}
		if ch.Entry.Has("coreTokenString01") {
			t.Fatalf("change %d not projected: %v", i, ch.Entry.Attributes)
		}
	}

	if err := ps.Close(); err != nil {
		t.Fatal(err)
	}
	waitClosed(t, ps)
	if ps.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", ps.Err())
	}
}

func TestServer_PersistentSearchOverflow(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *Config) { cfg.SubscriberBuffer = 1 })
	c := dial(t, srv)
	ctx := context.Background()

	ps, err := c.Persist(ctx, &directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry(id)}); err != nil {
			t.Fatal(err)
		}
	}
	waitClosed(t, ps)
	if !directory.IsCode(ps.Err(), directory.Busy) {
		t.Errorf("overflow error = %v, want Busy", ps.Err())
	}
}

func TestServer_DisconnectAll(t *testing.T) {
	srv, _ := newTestServer(t)
	f := srv.Factory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := f.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !f.IsValid(c) {
		t.Fatal("fresh connection should be valid")
	}
	if f.IsValid(nil) {
		t.Fatal("nil connection must be invalid")
	}

	ps, err := c.Persist(ctx, &directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne})
	if err != nil {
		t.Fatal(err)
	}

	srv.DisconnectAll()

	waitClosed(t, ps)
	if !directory.IsCode(ps.Err(), directory.ServerDown) {
		t.Errorf("persistent search error = %v, want ServerDown", ps.Err())
	}
	if f.IsValid(c) {
		t.Error("dropped connection should be invalid")
	}
	if _, err := c.Add(ctx, &directory.AddRequest{Entry: tokenEntry("t1")}); !directory.IsCode(err, directory.ServerDown) {
		t.Errorf("add on dropped connection = %v, want ServerDown", err)
	}
}

func TestServer_PersistCanceledContext(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)
	ctx, cancel := context.WithCancel(context.Background())

	ps, err := c.Persist(ctx, &directory.SearchRequest{BaseDN: baseDN, Scope: directory.ScopeOne})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	waitClosed(t, ps)
	if !directory.IsCode(ps.Err(), directory.Canceled) {
		t.Errorf("persistent search error = %v, want Canceled", ps.Err())
	}
}

func TestServer_OnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	srv, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	srv.RegisterMetrics(prometheus.NewRegistry())
	c := dial(t, srv)
	if _, err := c.Add(context.Background(), &directory.AddRequest{Entry: tokenEntry("t1")}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}

	srv, err = Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	if _, err := readBase(t, dial(t, srv), "coreTokenId=t1,"+baseDN); err != nil {
		t.Fatalf("entry lost across restart: %v", err)
	}
}

func TestOpen_RequiresDir(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Fatal("Open without dir or in_memory should fail")
	}
}
