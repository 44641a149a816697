package logger

import (
	"log/slog"
	"strings"
)

// Values starting with one of these prefixes are partially masked. Session
// handles grant the same access as the session itself.
var sensitiveValuePrefixes = []string{
	"shandle:",
}

// Keys containing one of these patterns have their value replaced.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"credential",
	"bearer",
	"cookie",
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		for _, prefix := range sensitiveValuePrefixes {
			if strings.HasPrefix(v, prefix) {
				return slog.String(a.Key, maskValue(v, prefix))
			}
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// maskValue keeps the prefix plus the first and last three characters.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks a value the way the handler would, for use in error
// messages and CLI output.
func RedactString(value string) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return maskValue(value, prefix)
		}
	}
	return value
}

// IsSensitiveKey reports whether a key name suggests a secret value.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
