package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeStore struct {
	mu       sync.Mutex
	previous *domain.Token
	updated  *domain.Token
	err      error
}

func (s *fakeStore) Create(_ context.Context, t *domain.Token) (*domain.Token, error) {
	return t.WithETag("v1"), s.err
}

func (s *fakeStore) Read(_ context.Context, id string) (*domain.Token, error) {
	if id == "missing" {
		return nil, nil
	}
	return domain.NewToken(id, domain.TokenTypeSession).SetETag("v1"), s.err
}

func (s *fakeStore) Update(_ context.Context, previous, updated *domain.Token) (*domain.Token, error) {
	s.mu.Lock()
	s.previous, s.updated = previous, updated
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return updated.WithETag("v2"), nil
}

func (s *fakeStore) Delete(context.Context, string, string) error { return s.err }

func (s *fakeStore) Query(context.Context, filter.TokenFilter) ([]*domain.Token, error) {
	return []*domain.Token{domain.NewToken("a", domain.TokenTypeSession)}, s.err
}

func (s *fakeStore) PartialQuery(context.Context, filter.TokenFilter) ([]*domain.PartialToken, error) {
	return []*domain.PartialToken{domain.NewPartialToken(map[domain.CoreTokenField]any{domain.FieldTokenID: "a"})}, s.err
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	return Result{}
}

func TestDispatcher_Operations(t *testing.T) {
	store := &fakeStore{}
	d := New(Config{Workers: 2, QueueSize: 4}, store, quiet)
	defer d.Close()
	ctx := context.Background()

	ch, err := d.Create(ctx, domain.NewToken("a", domain.TokenTypeSession))
	if err != nil {
		t.Fatal(err)
	}
	if r := await(t, ch); !r.OK() || r.Token.ETag() != "v1" {
		t.Errorf("Create result = %+v", r)
	}

	ch, _ = d.Read(ctx, "missing")
	if r := await(t, ch); !r.OK() || r.Token != nil {
		t.Errorf("Read(missing) result = %+v", r)
	}

	ch, _ = d.Query(ctx, filter.New().Build())
	if r := await(t, ch); len(r.Tokens) != 1 {
		t.Errorf("Query result = %+v", r)
	}

	ch, _ = d.PartialQuery(ctx, filter.New().Build())
	if r := await(t, ch); len(r.Partials) != 1 || r.Partials[0].TokenID() != "a" {
		t.Errorf("PartialQuery result = %+v", r)
	}

	ch, _ = d.Delete(ctx, "a", "v1")
	if r := await(t, ch); !r.OK() {
		t.Errorf("Delete result = %+v", r)
	}
}

func TestDispatcher_PartialUpdate(t *testing.T) {
	store := &fakeStore{}
	d := New(DefaultConfig(), store, quiet)
	defer d.Close()

	tok := domain.NewToken("s1", domain.TokenTypeSession).
		SetString(domain.SessionFieldState, string(domain.SessionStateDestroyed)).
		SetETag("v1")

	ch, err := d.Update(context.Background(), tok)
	if err != nil {
		t.Fatal(err)
	}
	r := await(t, ch)
	if !r.OK() || r.Token.ETag() != "v2" {
		t.Fatalf("Update result = %+v", r)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.previous.ETag() != "v1" || len(store.previous.Fields()) != 1 {
		t.Errorf("previous = %#v, want identity and etag only", store.previous)
	}
	if store.updated.ETag() != "" || store.updated.String(domain.SessionFieldState) != "DESTROYED" {
		t.Errorf("updated = %#v, want fields without etag", store.updated)
	}
	if tok.ETag() != "v1" {
		t.Error("Update must not mutate its input")
	}
}

func TestDispatcher_FailureResult(t *testing.T) {
	cause := &domain.ConflictError{TokenID: "s1", ExpectedETag: "v1"}
	d := New(DefaultConfig(), &fakeStore{err: cause}, quiet)
	defer d.Close()

	ch, err := d.Update(context.Background(), domain.NewToken("s1", domain.TokenTypeSession).SetETag("v1"))
	if err != nil {
		t.Fatal(err)
	}
	r := await(t, ch)
	if r.OK() || !domain.IsConflict(r.Err) {
		t.Errorf("result = %+v, want conflict", r)
	}
}

func TestDispatcher_ExactlyOneResultPerTask(t *testing.T) {
	d := New(Config{Workers: 4, QueueSize: 16}, &fakeStore{}, quiet)
	defer d.Close()

	const tasks = 100
	channels := make([]<-chan Result, 0, tasks)
	for range tasks {
		ch, err := d.Read(context.Background(), "x")
		if err != nil {
			t.Fatal(err)
		}
		channels = append(channels, ch)
	}
	for _, ch := range channels {
		await(t, ch)
		select {
		case r := <-ch:
			t.Fatalf("second result delivered: %+v", r)
		default:
		}
	}
}

func TestDispatcher_SubmitBlocksWhileQueueFull(t *testing.T) {
	d := New(Config{Workers: 1, QueueSize: 1}, &fakeStore{}, quiet)
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := TaskFunc(func(context.Context, Store) Result {
		close(started)
		<-release
		return Result{}
	})

	first, err := d.Submit(context.Background(), blocking)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	second, err := d.Submit(context.Background(), TaskFunc(func(context.Context, Store) Result { return Result{} }))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.Submit(ctx, TaskFunc(func(context.Context, Store) Result { return Result{} }))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit on full queue = %v, want deadline exceeded", err)
	}

	close(release)
	await(t, first)
	await(t, second)
	d.Close()
}

func TestDispatcher_Close(t *testing.T) {
	d := New(Config{Workers: 1, QueueSize: 8}, &fakeStore{}, quiet)

	var channels []<-chan Result
	for range 5 {
		ch, err := d.Read(context.Background(), "x")
		if err != nil {
			t.Fatal(err)
		}
		channels = append(channels, ch)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	for _, ch := range channels {
		if r := await(t, ch); !r.OK() {
			t.Errorf("queued task result = %+v", r)
		}
	}

	if _, err := d.Read(context.Background(), "x"); !errors.Is(err, domain.ErrDispatcherClosed) {
		t.Errorf("Submit after Close = %v, want ErrDispatcherClosed", err)
	}
	d.Close()
}

func TestDispatcher_PanicBecomesFailure(t *testing.T) {
	d := New(DefaultConfig(), &fakeStore{}, quiet)
	defer d.Close()

	ch, err := d.Submit(context.Background(), TaskFunc(func(context.Context, Store) Result { panic("boom") }))
	if err != nil {
		t.Fatal(err)
	}
	if r := await(t, ch); !errors.Is(r.Err, domain.ErrBackendOperation) {
		t.Errorf("result = %+v, want backend failure", r)
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	d := New(Config{Workers: 2, QueueSize: 4, RateLimit: 1000}, &fakeStore{}, quiet)
	defer d.Close()

	for range 3 {
		ch, err := d.Read(context.Background(), "x")
		if err != nil {
			t.Fatal(err)
		}
		if r := await(t, ch); !r.OK() {
			t.Errorf("result = %+v", r)
		}
	}
}

func TestDispatcher_Preconditions(t *testing.T) {
	d := New(DefaultConfig(), &fakeStore{}, quiet)
	defer d.Close()

	if _, err := d.Submit(context.Background(), nil); !errors.Is(err, domain.ErrPrecondition) {
		t.Errorf("Submit(nil) = %v", err)
	}
	if _, err := d.Update(context.Background(), nil); !errors.Is(err, domain.ErrPrecondition) {
		t.Errorf("Update(nil) = %v", err)
	}
}
