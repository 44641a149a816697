// Package session holds the live internal sessions of this node.
//
// Manager resolves session ids to InternalSession handles, recovering
// sessions from persistence when they are not cached. Timeout is the one
// state transition driven from the token store: it destroys the session,
// writes an audit record and publishes a session notification.
package session
