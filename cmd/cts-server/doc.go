// Package main provides the entry point for cts-server.
//
// cts-server runs one node of the core token store: it opens the token
// directory, starts the cluster notification broker and the session
// expiry sweeper, and serves metrics and health on the metrics address.
package main
