package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Hook releases one component. It must return once ctx is done.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Handler runs shutdown hooks once.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	hooks []namedHook
	once  sync.Once
	err   error
	done  chan struct{}
}

// NewHandler creates a handler whose hooks share the given deadline.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a hook. Hooks run in reverse order of registration.
func (h *Handler) OnShutdown(name string, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, namedHook{name: name, fn: hook})
}

// OnClose registers a hook for a component whose Close takes no context.
func (h *Handler) OnClose(name string, closeFn func() error) {
	h.OnShutdown(name, func(context.Context) error { return closeFn() })
}

// Wait blocks until a termination signal arrives or ctx is done, then runs
// the hooks and returns their joined errors.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		h.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}
	return h.Shutdown()
}

// Shutdown runs the hooks. Later calls return the first result.
func (h *Handler) Shutdown() error {
	h.once.Do(func() {
		defer close(h.done)

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := make([]namedHook, len(h.hooks))
		copy(hooks, h.hooks)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			hook := hooks[i]
			start := time.Now()
			if err := hook.fn(ctx); err != nil {
				h.logger.Warn("shutdown hook failed", "hook", hook.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
				continue
			}
			h.logger.Debug("shutdown hook finished", "hook", hook.name, "elapsed", time.Since(start))
		}
		h.err = errors.Join(errs...)
	})
	<-h.done
	return h.err
}

// Done returns a channel that closes when shutdown is complete.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
