// Package apierr provides the structured error type shared by the
// protocol-facing packages: a small set of sentinel errors for the
// expected failure conditions, plus an *Error carrying a code and
// key/value context for callers that want to log or inspect more than
// just an error string.
package apierr

import "fmt"

// Code classifies an *Error's failure condition.
type Code int

const (
	CodeUnknown Code = iota
	CodeInvalidArgument
	CodeNotSupported
	CodeResourceExhausted
	CodeTimeout
)

// Error is a structured error: a stable code plus a human message and
// arbitrary diagnostic context, e.g. which header was missing or which
// connection id a framing failure belongs to.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the wrapped sentinel, if any, so errors.Is still
// matches against it.
func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error wrapping cause with code and message.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithContext attaches one key/value pair and returns e for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
