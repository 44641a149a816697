// Package metric owns the Prometheus registry of a cts-server process and
// the health probes exposed next to it.
//
// Components register their own collectors through the Registerer returned
// by Registry.Registerer; this package adds the Go runtime and process
// collectors, a build info gauge and a component_up gauge per probe.
package metric
