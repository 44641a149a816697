// Package worker expires sessions recorded in the token store.
//
// The Sweeper periodically queries for SESSION tokens past their maximum
// or idle expiry and hands each page to a BatchHandler. The handler marks
// every candidate DESTROYED with a conditional update against the ETag seen
// by the query, and for the updates that win it times out the live session.
// Losing to a concurrent writer is an expected outcome and is not reported.
package worker
