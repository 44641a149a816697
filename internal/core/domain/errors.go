// Package domain defines the core domain models for the token store.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "TM-CTS-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Token store errors (CTS)
// ============================================================================

var (
	// ErrTokenNotFound indicates a lookup found nothing. The adapter's Read
	// reports absence as a nil token instead; this code is for callers that
	// must turn absence into an error.
	ErrTokenNotFound = NewDomainError("TM-CTS-4040", "token not found")

	// ErrOptimisticConcurrency indicates a version assertion failed.
	ErrOptimisticConcurrency = NewDomainError("TM-CTS-4090", "optimistic concurrency check failed")

	// ErrBackendOperation indicates a protocol, connectivity or unexpected backend fault.
	ErrBackendOperation = NewDomainError("TM-CTS-5020", "backend operation failed")

	// ErrVersionExtraction indicates the post-write snapshot could not be decoded.
	ErrVersionExtraction = NewDomainError("TM-CTS-5021", "failed to extract the e-tag")

	// ErrQueryFailed indicates a query could not be executed.
	ErrQueryFailed = NewDomainError("TM-CTS-5022", "error during query")

	// ErrTokenDecode indicates a stored entry could not be converted to a token.
	ErrTokenDecode = NewDomainError("TM-CTS-5023", "malformed token entry")
)

// ConflictError is returned when a conditional write or delete lost against a
// concurrent modification. It matches ErrOptimisticConcurrency.
type ConflictError struct {
	TokenID      string
	ExpectedETag string
	Cause        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("[%s] %s: token %s, expected etag %q",
		ErrOptimisticConcurrency.Code, ErrOptimisticConcurrency.Message, e.TokenID, e.ExpectedETag)
}

func (e *ConflictError) Unwrap() error { return e.Cause }

func (e *ConflictError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == ErrOptimisticConcurrency.Code
}

// IsConflict reports whether err is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOptimisticConcurrency)
}

// ============================================================================
// Notification errors (NOTI)
// ============================================================================

var (
	// ErrQueueFull indicates the local notification channel stayed saturated
	// for the whole enqueue timeout.
	ErrQueueFull = NewDomainError("TM-NOTI-5030", "notification queue full")

	// ErrBrokerClosed indicates the broker has been shut down.
	ErrBrokerClosed = NewDomainError("TM-NOTI-5031", "notification broker closed")
)

// ============================================================================
// Session errors (SESS)
// ============================================================================

var (
	// ErrSessionNotFound indicates the requested session was not found.
	ErrSessionNotFound = NewDomainError("TM-SESS-4040", "session not found")

	// ErrSessionPersistence wraps storage failures seen by the session layer.
	ErrSessionPersistence = NewDomainError("TM-SESS-5001", "session persistence failed")
)

// ============================================================================
// System and argument errors
// ============================================================================

var (
	// ErrDispatcherClosed indicates a task was submitted after shutdown.
	ErrDispatcherClosed = NewDomainError("TM-SYS-5031", "task dispatcher closed")

	// ErrPrecondition indicates a nil or invalid argument, rejected before any I/O.
	ErrPrecondition = NewDomainError("TM-ARG-1002", "precondition violated")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("TM-ARG-1001", "invalid argument")
)
