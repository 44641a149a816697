package cts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

var (
	etagOnly        = []string{directory.ETagAttribute}
	allWithETag     = []string{"*", directory.ETagAttribute}
	identityAndETag = []domain.CoreTokenField{domain.FieldTokenID, domain.FieldETag}
)

// Adapter is the token store over a directory service.
type Adapter struct {
	conv    *Conversion
	conns   *ConnectionManager
	factory directory.Factory
	logger  *slog.Logger
	metrics *adapterMetrics
}

// NewAdapter creates an adapter storing tokens below baseDN. Operations
// share one managed connection; continuous queries open their own.
func NewAdapter(baseDN string, factory directory.Factory, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		conv:    NewConversion(baseDN),
		conns:   NewConnectionManager(factory, logger),
		factory: factory,
		logger:  logger,
	}
}

// RegisterMetrics registers the adapter metrics with registry.
func (a *Adapter) RegisterMetrics(registry prometheus.Registerer) *Adapter {
	a.metrics = newAdapterMetrics(registry)
	return a
}

// Conversion returns the token/entry mapping used by the adapter.
func (a *Adapter) Conversion() *Conversion { return a.conv }

// Close releases the shared connection.
func (a *Adapter) Close() error {
	return a.conns.Close()
}

// Create stores a new token and returns a copy carrying its etag.
func (a *Adapter) Create(ctx context.Context, token *domain.Token) (_ *domain.Token, err error) {
	start := time.Now()
	defer func() { a.metrics.observe("create", outcome(err), start) }()

	if token == nil {
		return nil, domain.ErrPrecondition.WithDetails("token is nil")
	}
	conn, err := a.conns.Acquire(ctx)
	if err != nil {
		return nil, a.backendError("create", token.ID(), err)
	}
	res, err := conn.Add(ctx, &directory.AddRequest{Entry: a.conv.Entry(token), PostRead: etagOnly})
	if err != nil {
		return nil, a.backendError("create", token.ID(), err)
	}
	etag, err := postReadETag(res)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("token created", "token_id", token.ID(), "type", token.Type())
	return token.WithETag(etag), nil
}

// Read returns the stored token, or nil when none exists.
func (a *Adapter) Read(ctx context.Context, tokenID string) (_ *domain.Token, err error) {
	start := time.Now()
	var found bool
	defer func() {
		o := outcome(err)
		if err == nil && !found {
			o = outcomeNotFound
		}
		a.metrics.observe("read", o, start)
	}()

	if tokenID == "" {
		return nil, domain.ErrPrecondition.WithDetails("token id is empty")
	}
	conn, err := a.conns.Acquire(ctx)
	if err != nil {
		return nil, a.backendError("read", tokenID, err)
	}
	entries, err := conn.Search(ctx, &directory.SearchRequest{
		BaseDN:     a.conv.DN(tokenID),
		Scope:      directory.ScopeBase,
		Filter:     directory.MatchAll,
		Attributes: allWithETag,
	})
	if directory.IsCode(err, directory.NoSuchObject) {
		return nil, nil
	}
	if err != nil {
		return nil, a.backendError("read", tokenID, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	token, err := a.decode(entries[0])
	if err != nil {
		return nil, domain.ErrBackendOperation.WithDetails("read " + tokenID).WithCause(err)
	}
	found = true
	return token, nil
}

// Update writes the difference between previous and updated. When nothing
// differs previous is returned and no write is sent. When previous carries
// an etag the write only applies if the stored etag still equals it.
func (a *Adapter) Update(ctx context.Context, previous, updated *domain.Token) (_ *domain.Token, err error) {
	start := time.Now()
	noop := false
	defer func() {
		o := outcome(err)
		if noop {
			o = outcomeNoop
		}
		a.metrics.observe("update", o, start)
	}()

	if previous == nil || updated == nil {
		return nil, domain.ErrPrecondition.WithDetails("previous and updated tokens are required")
	}
	if previous.ID() != updated.ID() {
		return nil, domain.ErrPrecondition.WithDetails(
			fmt.Sprintf("token id changed from %s to %s", previous.ID(), updated.ID()))
	}

	changes := Diff(a.conv.Entry(previous), a.conv.Entry(updated))
	if len(changes) == 0 {
		noop = true
		return previous, nil
	}

	conn, err := a.conns.Acquire(ctx)
	if err != nil {
		return nil, a.backendError("update", updated.ID(), err)
	}
	req := &directory.ModifyRequest{
		DN:       a.conv.DN(updated.ID()),
		Changes:  changes,
		PostRead: etagOnly,
	}
	if etag := previous.ETag(); etag != "" {
		req.Assert = &directory.Assertion{Attr: directory.ETagAttribute, Value: etag}
	}

	res, err := conn.Modify(ctx, req)
	if directory.IsCode(err, directory.AssertionFailed) {
		a.logger.Debug("token update lost a concurrent modification",
			"token_id", updated.ID(), "expected_etag", previous.ETag())
		return nil, &domain.ConflictError{TokenID: updated.ID(), ExpectedETag: previous.ETag(), Cause: err}
	}
	if err != nil {
		return nil, a.backendError("update", updated.ID(), err)
	}
	etag, err := postReadETag(res)
	if err != nil {
		return nil, err
	}
	return updated.WithETag(etag), nil
}

// Delete removes a token. Deleting an absent token succeeds. When etag is
// set the delete only applies if the stored etag still equals it.
func (a *Adapter) Delete(ctx context.Context, tokenID, etag string) (err error) {
	start := time.Now()
	defer func() { a.metrics.observe("delete", outcome(err), start) }()

	if tokenID == "" {
		return domain.ErrPrecondition.WithDetails("token id is empty")
	}
	conn, err := a.conns.Acquire(ctx)
	if err != nil {
		return a.backendError("delete", tokenID, err)
	}
	req := &directory.DeleteRequest{DN: a.conv.DN(tokenID)}
	if etag != "" {
		req.Assert = &directory.Assertion{Attr: directory.ETagAttribute, Value: etag}
	}

	_, err = conn.Delete(ctx, req)
	switch {
	case err == nil:
		return nil
	case directory.IsCode(err, directory.NoSuchObject):
		a.logger.Debug("token already deleted", "token_id", tokenID)
		return nil
	case directory.IsCode(err, directory.AssertionFailed):
		return &domain.ConflictError{TokenID: tokenID, ExpectedETag: etag, Cause: err}
	}
	return a.backendError("delete", tokenID, err)
}

// Query returns the tokens matching f. When the size limit is reached the
// tokens received so far are returned.
func (a *Adapter) Query(ctx context.Context, f filter.TokenFilter) (_ []*domain.Token, err error) {
	start := time.Now()
	defer func() { a.metrics.observe("query", outcome(err), start) }()

	entries, err := a.search(ctx, f, allWithETag)
	if err != nil {
		return nil, err
	}
	tokens := make([]*domain.Token, 0, len(entries))
	for _, e := range entries {
		t, err := a.decode(e)
		if err != nil {
			return nil, domain.ErrQueryFailed.WithCause(err)
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// PartialQuery returns projections of the tokens matching f onto f.Fields.
// Without fields the token id and etag are returned.
func (a *Adapter) PartialQuery(ctx context.Context, f filter.TokenFilter) (_ []*domain.PartialToken, err error) {
	start := time.Now()
	defer func() { a.metrics.observe("partial_query", outcome(err), start) }()

	fields := f.Fields
	if len(fields) == 0 {
		fields = identityAndETag
	}
	entries, err := a.search(ctx, f, Attributes(fields))
	if err != nil {
		return nil, err
	}
	partials := make([]*domain.PartialToken, 0, len(entries))
	for _, e := range entries {
		p, err := a.conv.PartialFromEntry(e, fields)
		if err != nil {
			return nil, domain.ErrQueryFailed.WithCause(err)
		}
		partials = append(partials, p)
	}
	return partials, nil
}

func (a *Adapter) search(ctx context.Context, f filter.TokenFilter, attrs []string) ([]*directory.Entry, error) {
	df, err := filter.ToDirectory(f.Expr)
	if err != nil {
		return nil, domain.ErrQueryFailed.WithCause(err)
	}
	conn, err := a.conns.Acquire(ctx)
	if err != nil {
		return nil, domain.ErrQueryFailed.WithCause(err)
	}
	entries, err := conn.Search(ctx, &directory.SearchRequest{
		BaseDN:     a.conv.BaseDN(),
		Scope:      directory.ScopeOne,
		Filter:     df,
		Attributes: attrs,
		SizeLimit:  f.SizeLimit,
		TimeLimit:  f.TimeLimit,
	})
	if directory.IsCode(err, directory.SizeLimitExceeded) {
		a.logger.Debug("query size limit reached", "filter", df.String(), "limit", f.SizeLimit)
		return entries, nil
	}
	if err != nil {
		a.logger.Warn("token query failed", "filter", df.String(), "error", err)
		return nil, domain.ErrQueryFailed.WithDetails(df.String()).WithCause(err)
	}
	return entries, nil
}

func (a *Adapter) decode(e *directory.Entry) (*domain.Token, error) {
	t, err := a.conv.TokenFromEntry(e)
	if err != nil {
		return nil, err
	}
	if t.ETag() == "" {
		return nil, domain.ErrVersionExtraction.WithDetails(e.DN)
	}
	return t, nil
}

// backendError wraps a directory failure. The directory result code stays
// reachable with directory.CodeOf.
func (a *Adapter) backendError(op, tokenID string, err error) error {
	code := directory.CodeOf(err)
	a.logger.Warn("token store operation failed",
		"op", op, "token_id", tokenID, "result_code", int(code), "error", err)
	return domain.ErrBackendOperation.
		WithDetails(fmt.Sprintf("%s %s: %s (%d)", op, tokenID, code, int(code))).
		WithCause(err)
}

func postReadETag(res *directory.Result) (string, error) {
	if res == nil || res.PostRead == nil {
		return "", domain.ErrVersionExtraction.WithDetails("no post-read entry in response")
	}
	etag := res.PostRead.First(directory.ETagAttribute)
	if etag == "" {
		return "", domain.ErrVersionExtraction.WithDetails("post-read entry has no etag")
	}
	return etag, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case domain.IsConflict(err):
		return outcomeConflict
	}
	return outcomeError
}
