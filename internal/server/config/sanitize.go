package config

import "strings"

// Sanitize returns a copy of cfg safe to print or log.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	for _, secret := range []*string{&out.Directory.BindPassword} {
		if *secret != "" {
			*secret = maskSecret(*secret)
		}
	}
	return &out
}

// maskSecret keeps the first and last two characters of long secrets.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
