package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey        contextKey = "cts.logger"
	transactionIDKey contextKey = "cts.transaction_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from ctx, falling back to slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithTransactionID tags ctx with the id of the request being served.
func WithTransactionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transactionIDKey, id)
}

// TransactionIDFromContext returns the id set by WithTransactionID, or "".
func TransactionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(transactionIDKey).(string); ok {
		return id
	}
	return ""
}

// L returns the context logger enriched with the transaction id.
func L(ctx context.Context) *slog.Logger {
	l := FromContext(ctx)
	if id := TransactionIDFromContext(ctx); id != "" {
		l = l.With("transaction_id", id)
	}
	return l
}
