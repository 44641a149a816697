// Package domain defines the core domain models for the token store.
//
// Domain models are pure value objects without any IO dependencies.
// This package contains:
//
//   - Token: typed record keyed by CoreTokenField, with ETag version stamp
//   - PartialToken: read-only projection returned by queries
//   - Session: persistent state of an internal session
//   - Errors: structured DomainError codes
package domain
