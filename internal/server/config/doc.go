// Package config defines the cts-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values and their koanf map form
//   - verify.go: validation
//   - sanitize.go: masking of secrets for logging
//
// Configuration is loaded via internal/infra/confloader.
package config
