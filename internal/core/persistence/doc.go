// Package persistence stores internal sessions as SESSION tokens.
//
// TokenMapper converts between sessions and tokens, Store runs the token
// operations, and Step is the session-layer view that rejects missing
// arguments and reports storage faults as ErrSessionPersistence.
package persistence
