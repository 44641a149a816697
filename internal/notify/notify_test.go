package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/storage/cts"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory/embedded"
)

const testBaseDN = "ou=tokens,dc=example,dc=com"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

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

// deleteCounter counts the deletes issued through its connections.
type deleteCounter struct {
	directory.Factory
	deletes atomic.Int32
}

func (f *deleteCounter) Create(ctx context.Context) (directory.Conn, error) {
	c, err := f.Factory.Create(ctx)
	if err != nil {
		return nil, err
	}
	return &countingConn{Conn: c, f: f}, nil
}

func (f *deleteCounter) IsValid(c directory.Conn) bool {
	cc, ok := c.(*countingConn)
	return ok && f.Factory.IsValid(cc.Conn)
}

type countingConn struct {
	directory.Conn
	f *deleteCounter
}

func (c *countingConn) Delete(ctx context.Context, req *directory.DeleteRequest) (*directory.Result, error) {
	c.f.deletes.Add(1)
	return c.Conn.Delete(ctx, req)
}

type backend struct {
	srv     *embedded.Server
	adapter *cts.Adapter
	clock   *fakeClock
	factory *deleteCounter
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	clock := &fakeClock{now: time.Now().UTC()}
	cfg := embedded.DefaultConfig("")
	cfg.Now = clock.Now
	srv, err := embedded.Open(cfg, quiet)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	f := &deleteCounter{Factory: srv.Factory()}
	a := cts.NewAdapter(testBaseDN, f, quiet)
	t.Cleanup(func() { a.Close() })
	return &backend{srv: srv, adapter: a, clock: clock, factory: f}
}

func testConfig() Config {
	return Config{
		QueueSize:      16,
		QueueTimeout:   50 * time.Millisecond,
		TokenExpiry:    10 * time.Minute,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

type event struct {
	User string
	N    int
}

func receive(t *testing.T, ch <-chan *Notification) *Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return nil
}

func TestLocalBroker_Delivery(t *testing.T) {
	b := NewLocalBroker(testConfig(), "node-a", quiet)
	defer b.Shutdown()

	got := make(chan *Notification, 4)
	sub := b.Subscribe("session", func(n *Notification) { got <- n })
	b.Subscribe("other", func(*Notification) { t.Error("delivered to the wrong topic") })

	for i := range 3 {
		if err := b.Publish(context.Background(), "session", event{User: "demo", N: i}); err != nil {
			t.Fatal(err)
		}
	}
	for i := range 3 {
		n := receive(t, got)
		var ev event
		if err := n.Decode(&ev); err != nil {
			t.Fatal(err)
		}
		if ev.N != i || n.Origin != "node-a" {
			t.Errorf("notification %d = %+v from %q", i, ev, n.Origin)
		}
	}

	sub.Close()
	if err := b.Publish(context.Background(), "session", event{}); err != nil {
		t.Fatal(err)
	}
	b.Shutdown()
	if len(got) != 0 {
		t.Error("closed subscription still receives notifications")
	}
}

func TestLocalBroker_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	b := NewLocalBroker(cfg, "", quiet)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	b.Subscribe("t", func(*Notification) {
		once.Do(func() { close(entered) })
		<-release
	})

	ctx := context.Background()
	if err := b.Publish(ctx, "t", 1); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := b.Publish(ctx, "t", 2); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := b.Publish(ctx, "t", 3)
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("Publish on full queue = %v, want ErrQueueFull", err)
	}
	if waited := time.Since(start); waited < cfg.QueueTimeout {
		t.Errorf("Publish gave up after %s, want at least %s", waited, cfg.QueueTimeout)
	}

	close(release)
	b.Shutdown()
	if err := b.Publish(ctx, "t", 4); !errors.Is(err, domain.ErrBrokerClosed) {
		t.Errorf("Publish after Shutdown = %v, want ErrBrokerClosed", err)
	}
}

func TestLocalBroker_HandlerPanic(t *testing.T) {
	b := NewLocalBroker(testConfig(), "", quiet)
	defer b.Shutdown()

	got := make(chan *Notification, 1)
	b.Subscribe("t", func(*Notification) { panic("boom") })
	b.Subscribe("t", func(n *Notification) { got <- n })

	if err := b.Publish(context.Background(), "t", "x"); err != nil {
		t.Fatal(err)
	}
	receive(t, got)
}

func TestCTSBroker_DurableNotificationExpires(t *testing.T) {
	be := newBackend(t)
	cfg := testConfig()
	b := NewCTSBroker(NewLocalBroker(cfg, "node-a", quiet), be.adapter, cfg, quiet).WithClock(be.clock.Now)
	defer b.Shutdown()

	n, err := NewNotification("session", "node-a", event{User: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.PublishNotification(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	stored, err := be.adapter.Read(context.Background(), n.ID)
	if err != nil || stored == nil {
		t.Fatalf("Read = %v, %v; want the stored notification", stored, err)
	}
	if stored.Type() != domain.TokenTypeNotification || stored.String(FieldTopic) != "session" {
		t.Errorf("stored = %#v", stored)
	}
	ttl, _ := stored.Date(domain.FieldTTLDate)
	if want := be.clock.Now().Add(cfg.TokenExpiry).Truncate(time.Millisecond); !ttl.Equal(want) {
		t.Errorf("ttl date = %v, want %v", ttl, want)
	}

	be.clock.Advance(cfg.TokenExpiry + time.Second)
	gone, err := be.adapter.Read(context.Background(), n.ID)
	if err != nil || gone != nil {
		t.Fatalf("Read after TTL = %v, %v; want nil, nil", gone, err)
	}
	if d := be.factory.deletes.Load(); d != 0 {
		t.Errorf("broker issued %d deletes", d)
	}
}

func TestCTSBroker_PublishReportsEachLeg(t *testing.T) {
	be := newBackend(t)
	cfg := testConfig()
	b := NewCTSBroker(NewLocalBroker(cfg, "", quiet), be.adapter, cfg, quiet)

	n, err := NewNotification("t", "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.PublishNotification(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	// Same id again: the durable leg fails, the local one still succeeds.
	err = b.PublishNotification(context.Background(), n)
	var pe *PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PublishError", err)
	}
	if pe.Local != nil || !errors.Is(pe.Durable, domain.ErrBackendOperation) {
		t.Errorf("PublishError = %+v, want durable failure only", pe)
	}
	if !errors.Is(err, domain.ErrBackendOperation) {
		t.Error("errors.Is should see the durable cause")
	}

	b.Shutdown()
	err = b.PublishNotification(context.Background(), &Notification{ID: "ntf-x", Topic: "t"})
	if !errors.As(err, &pe) || !errors.Is(pe.Local, domain.ErrBrokerClosed) || pe.Durable != nil {
		t.Errorf("publish after shutdown = %v, want local failure only", err)
	}
}

func TestCTSBroker_RemoteDelivery(t *testing.T) {
	be := newBackend(t)
	cfg := testConfig()
	a := NewCTSBroker(NewLocalBroker(cfg, "node-a", quiet), be.adapter, cfg, quiet)
	b := NewCTSBroker(NewLocalBroker(cfg, "node-b", quiet), be.adapter, cfg, quiet)
	defer a.Shutdown()
	defer b.Shutdown()

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}

	atA := make(chan *Notification, 8)
	atB := make(chan *Notification, 8)
	a.Subscribe("session", func(n *Notification) { atA <- n })
	b.Subscribe("session", func(n *Notification) { atB <- n })

	if err := a.Publish(ctx, "session", event{User: "demo", N: 7}); err != nil {
		t.Fatal(err)
	}
	local := receive(t, atA)
	remote := receive(t, atB)
	if remote.ID != local.ID || remote.Origin != "node-a" {
		t.Errorf("remote = %+v, want copy of %+v", remote, local)
	}
	var ev event
	if err := remote.Decode(&ev); err != nil || ev.N != 7 {
		t.Errorf("remote payload = %+v, %v", ev, err)
	}

	select {
	case n := <-atA:
		t.Errorf("origin received its own notification twice: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCTSBroker_ReestablishesQuery(t *testing.T) {
	be := newBackend(t)
	cfg := testConfig()
	a := NewCTSBroker(NewLocalBroker(cfg, "node-a", quiet), be.adapter, cfg, quiet)
	b := NewCTSBroker(NewLocalBroker(cfg, "node-b", quiet), be.adapter, cfg, quiet)
	defer a.Shutdown()
	defer b.Shutdown()

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	atB := make(chan *Notification, 64)
	b.Subscribe("t", func(n *Notification) { atB <- n })

	be.srv.DisconnectAll()

	deadline := time.After(2 * time.Second)
	for {
		if err := a.Publish(ctx, "t", "ping"); err != nil {
			t.Fatal(err)
		}
		select {
		case <-atB:
			return
		case <-deadline:
			t.Fatal("continuous query was not re-established")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestNotification_Value(t *testing.T) {
	n, err := NewNotification("logout", "node-a", map[string]any{"user": "alice", "n": 2})
	if err != nil {
		t.Fatal(err)
	}
	v, err := n.Value()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Value = %T, want map[string]any", v)
	}
	if m["user"] != "alice" {
		t.Fatalf("user = %v, want alice", m["user"])
	}
}
