// Package notify delivers short-lived event notifications.
//
// LocalBroker fans notifications out to in-process subscribers through a
// bounded queue. CTSBroker adds a durable leg: every notification is also
// stored as a NOTIFICATION token that the directory reaps after its TTL,
// and notifications stored by other nodes are picked up through a
// continuous query and published locally.
package notify
