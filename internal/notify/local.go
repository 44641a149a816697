package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
)

// Config configures the brokers.
type Config struct {
	// QueueSize is the capacity of the local queue.
	QueueSize int
	// QueueTimeout bounds how long Publish waits for room in the queue.
	QueueTimeout time.Duration
	// TokenExpiry is the lifetime of durable notifications.
	TokenExpiry time.Duration
	// ReconnectDelay is the pause before the continuous query is started
	// again after the directory ended it.
	ReconnectDelay time.Duration
}

// DefaultConfig returns the default broker configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:      10000,
		QueueTimeout:   500 * time.Millisecond,
		TokenExpiry:    600 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}
}

// Handler consumes notifications of a topic.
type Handler func(n *Notification)

// Subscription is a registered handler.
type Subscription struct {
	broker *LocalBroker
	topic  string
	fn     Handler
}

// Close unregisters the handler. Notifications already being delivered
// may still reach it.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// LocalBroker delivers notifications to subscribers of the same process.
// A single goroutine delivers queued notifications in publish order.
type LocalBroker struct {
	cfg     Config
	origin  string
	logger  *slog.Logger
	metrics *brokerMetrics

	queue chan *Notification
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// NewLocalBroker starts a broker. origin names this process in the
// notifications it publishes; an empty origin gets a generated one.
func NewLocalBroker(cfg Config, origin string, logger *slog.Logger) *LocalBroker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}
	if origin == "" {
		origin, _ = domain.GenerateTokenID("node-")
	}

	b := &LocalBroker{
		cfg:    cfg,
		origin: origin,
		logger: logger,
		queue:  make(chan *Notification, cfg.QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		subs:   make(map[string][]*Subscription),
	}
	go b.dispatch()
	return b
}

// RegisterMetrics registers the broker metrics with registry.
func (b *LocalBroker) RegisterMetrics(registry prometheus.Registerer) *LocalBroker {
	b.metrics = newBrokerMetrics(registry, func() int { return len(b.queue) })
	return b
}

// Origin returns the name this broker stamps on its notifications.
func (b *LocalBroker) Origin() string { return b.origin }

// Subscribe registers fn for topic.
func (b *LocalBroker) Subscribe(topic string, fn Handler) *Subscription {
	s := &Subscription{broker: b, topic: topic, fn: fn}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s
}

func (b *LocalBroker) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s.topic] = slices.DeleteFunc(b.subs[s.topic], func(x *Subscription) bool { return x == s })
	if len(b.subs[s.topic]) == 0 {
		delete(b.subs, s.topic)
	}
}

// Publish encodes payload and queues it for topic.
func (b *LocalBroker) Publish(ctx context.Context, topic string, payload any) error {
	n, err := NewNotification(topic, b.origin, payload)
	if err != nil {
		return err
	}
	return b.Enqueue(ctx, n)
}

// Enqueue queues n. When the queue stays full for the configured timeout
// it fails with ErrQueueFull.
func (b *LocalBroker) Enqueue(ctx context.Context, n *Notification) error {
	if n == nil {
		return domain.ErrPrecondition.WithDetails("notification is nil")
	}
	select {
	case <-b.quit:
		return domain.ErrBrokerClosed
	default:
	}

	select {
	case b.queue <- n:
		b.metrics.enqueued("ok")
		return nil
	default:
	}

	timer := time.NewTimer(b.cfg.QueueTimeout)
	defer timer.Stop()
	select {
	case b.queue <- n:
		b.metrics.enqueued("ok")
		return nil
	case <-timer.C:
		b.metrics.enqueued("queue_full")
		return domain.ErrQueueFull.WithDetails(fmt.Sprintf("topic %s: no room after %s", n.Topic, b.cfg.QueueTimeout))
	case <-ctx.Done():
		return ctx.Err()
	case <-b.quit:
		return domain.ErrBrokerClosed
	}
}

// Shutdown stops accepting notifications, delivers the queued ones and
// waits for the dispatcher to exit.
func (b *LocalBroker) Shutdown() {
	b.once.Do(func() { close(b.quit) })
	<-b.done
}

func (b *LocalBroker) dispatch() {
	defer close(b.done)
	for {
		select {
		case n := <-b.queue:
			b.deliver(n)
		case <-b.quit:
			for {
				select {
				case n := <-b.queue:
					b.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (b *LocalBroker) deliver(n *Notification) {
	b.mu.RLock()
	subs := slices.Clone(b.subs[n.Topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(s, n)
	}
	b.metrics.delivered(len(subs))
}

func (b *LocalBroker) call(s *Subscription, n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked", "topic", n.Topic, "panic", r)
		}
	}()
	s.fn(n)
}
