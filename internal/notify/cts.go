package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/core/filter"
	"github.com/yndnr/tokmesh-cts/internal/storage/cts"
)

// TokenStore is the part of the token store the durable leg uses.
type TokenStore interface {
	Create(ctx context.Context, token *domain.Token) (*domain.Token, error)
	StartContinuousQuery(ctx context.Context, f filter.TokenFilter, listener cts.Listener) (*cts.ContinuousQuery, error)
}

// PublishError reports which leg of a publish failed. At least one of
// Local and Durable is set.
type PublishError struct {
	Topic   string
	Local   error
	Durable error
}

func (e *PublishError) Error() string {
	var parts []string
	if e.Local != nil {
		parts = append(parts, "local: "+e.Local.Error())
	}
	if e.Durable != nil {
		parts = append(parts, "durable: "+e.Durable.Error())
	}
	return fmt.Sprintf("publish %s: %s", e.Topic, strings.Join(parts, "; "))
}

func (e *PublishError) Unwrap() []error {
	var errs []error
	if e.Local != nil {
		errs = append(errs, e.Local)
	}
	if e.Durable != nil {
		errs = append(errs, e.Durable)
	}
	return errs
}

// CTSBroker publishes locally and through the token store. Notifications
// written by other origins reach the local subscribers through a
// continuous query over NOTIFICATION tokens.
//
// Durable notifications are never deleted; the directory drops them once
// their TTL date has passed.
type CTSBroker struct {
	local  *LocalBroker
	store  TokenStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	query  *cts.ContinuousQuery
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewCTSBroker wraps local. Call Start to receive remote notifications.
func NewCTSBroker(local *LocalBroker, store TokenStore, cfg Config, logger *slog.Logger) *CTSBroker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = def.TokenExpiry
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	return &CTSBroker{
		local:  local,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		quit:   make(chan struct{}),
	}
}

// WithClock replaces the clock used to compute TTL dates.
func (b *CTSBroker) WithClock(now func() time.Time) *CTSBroker {
	b.now = now
	return b
}

// Local returns the wrapped local broker.
func (b *CTSBroker) Local() *LocalBroker { return b.local }

// Subscribe registers fn with the local broker.
func (b *CTSBroker) Subscribe(topic string, fn Handler) *Subscription {
	return b.local.Subscribe(topic, fn)
}

// Start opens the continuous query. When the directory later ends it, the
// broker opens a new one every ReconnectDelay until it succeeds or the
// broker is shut down.
func (b *CTSBroker) Start(ctx context.Context) error {
	return b.startQuery(ctx)
}

// Publish sends payload to local subscribers and stores it for the other
// nodes. Both legs are always attempted.
func (b *CTSBroker) Publish(ctx context.Context, topic string, payload any) error {
	n, err := NewNotification(topic, b.local.Origin(), payload)
	if err != nil {
		return err
	}
	return b.PublishNotification(ctx, n)
}

// PublishNotification is Publish for a prepared notification.
func (b *CTSBroker) PublishNotification(ctx context.Context, n *Notification) error {
	if n == nil {
		return domain.ErrPrecondition.WithDetails("notification is nil")
	}
	localErr := b.local.Enqueue(ctx, n)
	_, durableErr := b.store.Create(ctx, n.Token(b.now(), b.cfg.TokenExpiry))
	b.local.metrics.durable(durableErr)

	if localErr == nil && durableErr == nil {
		return nil
	}
	if durableErr != nil {
		b.logger.Warn("durable notification write failed", "topic", n.Topic, "notification_id", n.ID, "error", durableErr)
	}
	return &PublishError{Topic: n.Topic, Local: localErr, Durable: durableErr}
}

// Shutdown stops the continuous query and the local broker.
func (b *CTSBroker) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	q := b.query
	b.query = nil
	b.mu.Unlock()

	close(b.quit)
	if q != nil {
		q.Stop()
	}
	b.wg.Wait()
	b.local.Shutdown()
}

func (b *CTSBroker) startQuery(ctx context.Context) error {
	f := filter.New().
		Where(filter.Equals{Field: domain.FieldTokenType, Value: domain.TokenTypeNotification}).
		Returning(notificationFields...).
		Build()
	q, err := b.store.StartContinuousQuery(ctx, f, remoteListener{b})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		q.Stop()
		return domain.ErrBrokerClosed
	}
	b.query = q
	return nil
}

func (b *CTSBroker) reconnect() {
	defer b.wg.Done()
	timer := time.NewTimer(b.cfg.ReconnectDelay)
	defer timer.Stop()
	for {
		select {
		case <-b.quit:
			return
		case <-timer.C:
		}
		err := b.startQuery(context.Background())
		if err == nil {
			b.logger.Info("notification query re-established")
			return
		}
		if errors.Is(err, domain.ErrBrokerClosed) {
			return
		}
		b.logger.Warn("notification query restart failed", "error", err, "retry_in", b.cfg.ReconnectDelay)
		timer.Reset(b.cfg.ReconnectDelay)
	}
}

// remoteListener republishes notifications stored by other origins.
type remoteListener struct{ b *CTSBroker }

func (l remoteListener) ObjectChanged(change cts.TokenChange) {
	if change.Type != cts.TokenAdded || change.Token == nil {
		return
	}
	n, err := fromPartial(change.TokenID, change.Token)
	if err != nil {
		l.b.logger.Warn("dropping malformed notification", "token_id", change.TokenID, "error", err)
		return
	}
	if n.Origin == l.b.local.Origin() {
		return
	}
	if err := l.b.local.Enqueue(context.Background(), n); err != nil {
		l.b.logger.Warn("remote notification not delivered", "topic", n.Topic, "origin", n.Origin, "error", err)
	}
}

func (l remoteListener) ConnectionLost(err error) {
	b := l.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.query = nil
	b.logger.Warn("notification query lost", "error", err, "retry_in", b.cfg.ReconnectDelay)
	b.wg.Add(1)
	go b.reconnect()
}
