package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output writer (defaults to os.Stderr).
	Output io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

// globalLevel is shared by every logger built with New so a config reload
// can adjust verbosity at runtime.
var globalLevel = new(slog.LevelVar)

// New creates a logger with the given configuration and installs it as the
// slog default.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	globalLevel.Set(level)

	opts := &slog.HandlerOptions{
		Level:     globalLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		handler = slog.NewTextHandler(output, opts)
	case "", "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		return nil, &UnknownFormatError{Format: cfg.Format}
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l, nil
}

// UnknownFormatError is returned by New for an unsupported output format.
type UnknownFormatError struct {
	Format string
}

func (e *UnknownFormatError) Error() string {
	return "logger: unknown format " + `"` + e.Format + `"`
}

// SetLevel adjusts the level of every logger built with New. Unknown levels
// are ignored and reported.
func SetLevel(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	globalLevel.Set(l)
	return nil
}

// GetLevel returns the current level as a lower-case string.
func GetLevel() string {
	return strings.ToLower(globalLevel.Level().String())
}

// ParseLevel converts a level name to slog.Level. The empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
