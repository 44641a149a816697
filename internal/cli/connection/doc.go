// Package connection opens the token directory for cts-cli commands.
//
// The CLI talks to the directory itself rather than to a running server:
// against LDAP it shares the directory with the servers; against the
// embedded backend it needs the data directory to itself, so use it on a
// stopped node.
package connection
