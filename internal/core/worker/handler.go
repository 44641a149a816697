package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yndnr/tokmesh-cts/internal/core/dispatch"
	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/core/session"
)

// Dispatcher runs token store operations asynchronously.
// *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Update(ctx context.Context, token *domain.Token) (<-chan dispatch.Result, error)
	PartialQuery(ctx context.Context, f filter.TokenFilter) (<-chan dispatch.Result, error)
}

// BatchHandler times out batches of expired sessions for one reason.
type BatchHandler struct {
	dispatcher Dispatcher
	access     session.Access
	reason     domain.SessionEventType
	logger     *slog.Logger
	metrics    *Metrics
}

// ForMaxSessionTimeExpired handles sessions past their maximum lifetime.
func ForMaxSessionTimeExpired(d Dispatcher, access session.Access, logger *slog.Logger) *BatchHandler {
	return newBatchHandler(d, access, domain.SessionEventMaxTimeout, logger)
}

// ForSessionIdleTimeExpired handles sessions past their idle timeout.
func ForSessionIdleTimeExpired(d Dispatcher, access session.Access, logger *slog.Logger) *BatchHandler {
	return newBatchHandler(d, access, domain.SessionEventIdleTimeout, logger)
}

func newBatchHandler(d Dispatcher, access session.Access, reason domain.SessionEventType, logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{
		dispatcher: d,
		access:     access,
		reason:     reason,
		logger:     logger.With("reason", string(reason)),
	}
}

// WithMetrics records the outcomes of the handler's batches in m.
func (h *BatchHandler) WithMetrics(m *Metrics) *BatchHandler {
	h.metrics = m
	return h
}

// Reason returns the timeout reason applied by the handler.
func (h *BatchHandler) Reason() domain.SessionEventType { return h.reason }

// TimeoutBatch submits one conditional DESTROYED update per candidate.
// Each candidate carries the token id, its ETag as seen by the discovery
// query and, optionally, the session id.
//
// The returned batch resolves once every candidate has completed. A
// candidate that could not be submitted counts as failed; the submit
// errors are joined into the returned error, which is nil when every
// candidate was accepted.
func (h *BatchHandler) TimeoutBatch(ctx context.Context, candidates []*domain.PartialToken) (*Batch, error) {
	batch := newBatch(len(candidates))
	var errs []error

	for _, c := range candidates {
		if c == nil || c.TokenID() == "" {
			batch.complete(failed)
			h.metrics.resolved(h.reason, failed)
			errs = append(errs, domain.ErrPrecondition.WithDetails("candidate has no token id"))
			continue
		}

		tokenID := c.TokenID()
		sessionID := c.String(domain.SessionFieldSessionID)
		if sessionID == "" {
			sessionID = tokenID
		}
		update := domain.NewToken(tokenID, domain.TokenTypeSession).
			SetString(domain.SessionFieldState, string(domain.SessionStateDestroyed)).
			SetString(domain.SessionFieldSessionID, sessionID).
			SetETag(c.ETag())

		results, err := h.dispatcher.Update(ctx, update)
		if err != nil {
			h.logger.Debug("session timeout not submitted", "token_id", tokenID, "error", err)
			batch.complete(failed)
			h.metrics.resolved(h.reason, failed)
			errs = append(errs, fmt.Errorf("submit %s: %w", tokenID, err))
			continue
		}
		go h.await(context.WithoutCancel(ctx), batch, tokenID, results)
	}
	return batch, errors.Join(errs...)
}

func (h *BatchHandler) await(ctx context.Context, batch *Batch, tokenID string, results <-chan dispatch.Result) {
	res := <-results
	o := h.resolve(ctx, tokenID, res)
	h.metrics.resolved(h.reason, o)
	batch.complete(o)
}

func (h *BatchHandler) resolve(ctx context.Context, tokenID string, res dispatch.Result) outcome {
	switch {
	case domain.IsConflict(res.Err):
		return conflicted
	case res.Err != nil:
		h.logger.Debug("session timeout update failed", "token_id", tokenID, "error", res.Err)
		return failed
	}

	sessionID := tokenID
	if res.Token != nil {
		if id := res.Token.String(domain.SessionFieldSessionID); id != "" {
			sessionID = id
		}
	}
	handle, err := h.access.Lookup(ctx, sessionID)
	if err != nil {
		h.logger.Debug("expired session not live on this node", "session_id", sessionID, "error", err)
		return succeeded
	}
	if err := handle.Timeout(ctx, h.reason); err != nil {
		h.logger.Warn("session timeout side effects incomplete", "session_id", sessionID, "error", err)
	}
	return succeeded
}
