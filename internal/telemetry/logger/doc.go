// Package logger builds the structured slog loggers used across the token
// store.
//
//   - logger.go: handler construction and the process-wide level
//   - context.go: carrying a logger and a transaction id in a context
//   - redact.go: masking of credentials and session handles
package logger
