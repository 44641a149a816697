// Package tlsroots manages the trust roots of LDAPS directory connections.
//
//   - roots.go: system certificates plus a custom CA bundle
//   - watcher.go: reload of the CA bundle via fsnotify
//
// Connections read the pool once per dial, so a reloaded bundle applies to
// new connections only.
package tlsroots
