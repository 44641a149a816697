package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/dispatch"
	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/core/session"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedDispatcher resolves updates by token id.
type scriptedDispatcher struct {
	mu         sync.Mutex
	updates    []*domain.Token
	conflict   map[string]bool
	fail       map[string]bool
	rejectSubs map[string]bool
	hold       chan struct{}
	partials   []*domain.PartialToken
}

func (d *scriptedDispatcher) Update(_ context.Context, tok *domain.Token) (<-chan dispatch.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rejectSubs[tok.ID()] {
		return nil, domain.ErrDispatcherClosed
	}
	d.updates = append(d.updates, tok)

	out := make(chan dispatch.Result, 1)
	var res dispatch.Result
	switch {
	case d.conflict[tok.ID()]:
		res.Err = &domain.ConflictError{TokenID: tok.ID(), ExpectedETag: tok.ETag()}
	case d.fail[tok.ID()]:
		res.Err = domain.ErrBackendOperation
	default:
		res.Token = tok.WithETag("new-" + tok.ID())
	}
	go func() {
		if d.hold != nil {
			<-d.hold
		}
		out <- res
	}()
	return out, nil
}

func (d *scriptedDispatcher) PartialQuery(context.Context, filter.TokenFilter) (<-chan dispatch.Result, error) {
	out := make(chan dispatch.Result, 1)
	out <- dispatch.Result{Partials: d.partials}
	return out, nil
}

type recordingHandle struct {
	access *recordingAccess
	id     string
}

func (h recordingHandle) Timeout(_ context.Context, reason domain.SessionEventType) error {
	h.access.mu.Lock()
	defer h.access.mu.Unlock()
	h.access.timeouts[h.id] = append(h.access.timeouts[h.id], reason)
	return nil
}

type recordingAccess struct {
	mu       sync.Mutex
	timeouts map[string][]domain.SessionEventType
	unknown  map[string]bool
}

func newRecordingAccess() *recordingAccess {
	return &recordingAccess{timeouts: make(map[string][]domain.SessionEventType), unknown: make(map[string]bool)}
}

func (a *recordingAccess) Lookup(_ context.Context, id string) (session.Handle, error) {
	if a.unknown[id] {
		return nil, domain.ErrSessionNotFound
	}
	return recordingHandle{access: a, id: id}, nil
}

func (a *recordingAccess) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.timeouts {
		n += len(r)
	}
	return n
}

func candidate(id, etag string) *domain.PartialToken {
	return domain.NewPartialToken(map[domain.CoreTokenField]any{
		domain.FieldTokenID:          id,
		domain.FieldETag:             etag,
		domain.SessionFieldSessionID: "sid-" + id,
	})
}

func TestTimeoutBatch_Outcomes(t *testing.T) {
	d := &scriptedDispatcher{
		conflict:   map[string]bool{"c1": true, "c2": true},
		fail:       map[string]bool{"f1": true},
		rejectSubs: map[string]bool{"r1": true},
	}
	access := newRecordingAccess()
	h := ForSessionIdleTimeExpired(d, access, quiet)

	var cands []*domain.PartialToken
	for _, id := range []string{"s1", "c1", "f1", "s2", "r1", "c2"} {
		cands = append(cands, candidate(id, "etag-"+id))
	}

	batch, err := h.TimeoutBatch(context.Background(), cands)
	if !errors.Is(err, domain.ErrDispatcherClosed) {
		t.Errorf("TimeoutBatch error = %v, want the submit failure", err)
	}
	if err := batch.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := batch.Remaining(); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
	want := Stats{Succeeded: 2, Conflicted: 2, Failed: 2}
	if got := batch.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
	if n := access.count(); n != 2 {
		t.Errorf("%d timeouts fired, want 2", n)
	}
	for _, id := range []string{"sid-s1", "sid-s2"} {
		if r := access.timeouts[id]; len(r) != 1 || r[0] != domain.SessionEventIdleTimeout {
			t.Errorf("timeouts[%s] = %v, want one IDLE_TIMEOUT", id, r)
		}
	}
}

func TestTimeoutBatch_UpdateToken(t *testing.T) {
	d := &scriptedDispatcher{}
	h := ForMaxSessionTimeExpired(d, newRecordingAccess(), quiet)

	batch, err := h.TimeoutBatch(context.Background(), []*domain.PartialToken{candidate("s1", "e1")})
	if err != nil {
		t.Fatal(err)
	}
	if err := batch.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(d.updates) != 1 {
		t.Fatalf("%d updates submitted, want 1", len(d.updates))
	}
	u := d.updates[0]
	if u.ID() != "s1" || u.Type() != domain.TokenTypeSession || u.ETag() != "e1" {
		t.Errorf("update identity = %s/%s etag %q", u.ID(), u.Type(), u.ETag())
	}
	if got := u.String(domain.SessionFieldState); got != "DESTROYED" {
		t.Errorf("state = %q, want DESTROYED", got)
	}
	if got := u.String(domain.SessionFieldSessionID); got != "sid-s1" {
		t.Errorf("session id = %q, want sid-s1", got)
	}
	if h.Reason() != domain.SessionEventMaxTimeout {
		t.Errorf("Reason = %s", h.Reason())
	}
}

func TestTimeoutBatch_EdgeCases(t *testing.T) {
	h := ForMaxSessionTimeExpired(&scriptedDispatcher{}, newRecordingAccess(), quiet)

	empty, err := h.TimeoutBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := empty.Wait(context.Background()); err != nil || empty.Remaining() != 0 {
		t.Errorf("empty batch: Wait = %v, Remaining = %d", err, empty.Remaining())
	}

	bad, err := h.TimeoutBatch(context.Background(), []*domain.PartialToken{nil, domain.NewPartialToken(nil)})
	if !errors.Is(err, domain.ErrPrecondition) {
		t.Errorf("err = %v, want ErrPrecondition", err)
	}
	if got := bad.Stats(); got.Failed != 2 || bad.Remaining() != 0 {
		t.Errorf("Stats = %+v, Remaining = %d", got, bad.Remaining())
	}
}

func TestTimeoutBatch_UnknownSession(t *testing.T) {
	access := newRecordingAccess()
	access.unknown["sid-s1"] = true
	h := ForMaxSessionTimeExpired(&scriptedDispatcher{}, access, quiet)

	batch, _ := h.TimeoutBatch(context.Background(), []*domain.PartialToken{candidate("s1", "e1")})
	if err := batch.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := batch.Stats(); got.Succeeded != 1 {
		t.Errorf("Stats = %+v, want the update to count as succeeded", got)
	}
	if access.count() != 0 {
		t.Error("timeout fired for a session that is not live")
	}
}

func TestBatch_WaitIsBoundedByContext(t *testing.T) {
	d := &scriptedDispatcher{hold: make(chan struct{})}
	h := ForMaxSessionTimeExpired(d, newRecordingAccess(), quiet)

	batch, err := h.TimeoutBatch(context.Background(), []*domain.PartialToken{candidate("s1", "e1")})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := batch.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
	if batch.Remaining() != 1 {
		t.Errorf("Remaining = %d, want 1", batch.Remaining())
	}

	close(d.hold)
	if err := batch.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSweeper_SweepUsesBothReasons(t *testing.T) {
	d := &scriptedDispatcher{partials: []*domain.PartialToken{candidate("s1", "e1")}}
	access := newRecordingAccess()
	s := NewSweeper(SweeperConfig{BatchSize: 10}, d, access, quiet)

	stats, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Succeeded != 2 {
		t.Errorf("Stats = %+v, want one success per reason", stats)
	}
	got := access.timeouts["sid-s1"]
	if len(got) != 2 || got[0] != domain.SessionEventMaxTimeout || got[1] != domain.SessionEventIdleTimeout {
		t.Errorf("timeouts = %v, want max then idle", got)
	}
}

func TestSweeper_RunStops(t *testing.T) {
	s := NewSweeper(SweeperConfig{Interval: time.Millisecond}, &scriptedDispatcher{}, newRecordingAccess(), quiet)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
