// Package ctsserver assembles a token store node: the directory backend,
// the storage adapter, the task dispatcher, the notification brokers, the
// session persistence bridge, the live session cache and the expiry
// sweeper, plus the /metrics and /healthz endpoint.
package ctsserver
