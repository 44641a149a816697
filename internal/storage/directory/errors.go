package directory

import (
	"errors"
	"fmt"
)

// ResultCode is an LDAP-compatible operation result code.
type ResultCode int

const (
	Success                ResultCode = 0
	OperationsError        ResultCode = 1
	ProtocolError          ResultCode = 2
	TimeLimitExceeded      ResultCode = 3
	SizeLimitExceeded      ResultCode = 4
	UndefinedAttributeType ResultCode = 17
	NoSuchObject           ResultCode = 32
	InvalidDNSyntax        ResultCode = 34
	InvalidCredentials     ResultCode = 49
	Busy                   ResultCode = 51
	Unavailable            ResultCode = 52
	UnwillingToPerform     ResultCode = 53
	ObjectClassViolation   ResultCode = 65
	EntryAlreadyExists     ResultCode = 68
	Other                  ResultCode = 80
	AssertionFailed        ResultCode = 122
	ServerDown             ResultCode = 81  // client-side: connection closed
	Canceled               ResultCode = 118 // client-side: request canceled
)

var resultCodeNames = map[ResultCode]string{
	Success:                "success",
	OperationsError:        "operations error",
	ProtocolError:          "protocol error",
	TimeLimitExceeded:      "time limit exceeded",
	SizeLimitExceeded:      "size limit exceeded",
	UndefinedAttributeType: "undefined attribute type",
	NoSuchObject:           "no such object",
	InvalidDNSyntax:        "invalid DN syntax",
	InvalidCredentials:     "invalid credentials",
	Busy:                   "busy",
	Unavailable:            "unavailable",
	UnwillingToPerform:     "unwilling to perform",
	ObjectClassViolation:   "object class violation",
	EntryAlreadyExists:     "entry already exists",
	Other:                  "other",
	AssertionFailed:        "assertion failed",
	ServerDown:             "server down",
	Canceled:               "canceled",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("result code %d", int(c))
}

// Exceptional reports whether the code denotes a failed operation.
func (c ResultCode) Exceptional() bool {
	return c != Success
}

// Error is returned by Conn operations that the server rejected or that
// failed on the client side.
type Error struct {
	Code    ResultCode
	Message string
	Err     error
}

// NewError creates an Error with a message.
func NewError(code ResultCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("directory: %s (%d)", e.Code, int(e.Code))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the result code of err. A nil error is Success; an error
// that carries no code is Other.
func CodeOf(err error) ResultCode {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return Other
}

// IsCode reports whether err carries the given result code.
func IsCode(err error, code ResultCode) bool {
	return err != nil && CodeOf(err) == code
}
