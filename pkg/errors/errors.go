// Package errors defines the unified error type for the host core.
//
// Every failure surfaced across a package boundary carries an ErrorCode so
// callers can branch on the category without string matching the message.
package errors

import "fmt"

// ErrorCode represents the category of error.
type ErrorCode string

const (
	// Planning errors
	ErrGeometryDegenerate ErrorCode = "GEOMETRY_DEGENERATE"
	ErrMeshInvalid        ErrorCode = "MESH_INVALID"

	// Configuration errors
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"

	// Streaming errors
	ErrConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrAckTimeout       ErrorCode = "ACK_TIMEOUT"
	ErrDisconnected     ErrorCode = "DISCONNECTED"
	ErrDeviceFault      ErrorCode = "DEVICE_FAULT"
	ErrBadState         ErrorCode = "BAD_STATE"
	ErrInterrupted      ErrorCode = "INTERRUPTED"
)

// HostError is the unified error type for the host.
type HostError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err wraps the underlying error, if any.
	Err error

	// Context provides additional key/value context.
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetContext adds additional context and returns the error for chaining.
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a HostError with the given code and formatted message.
func New(code ErrorCode, format string, args ...interface{}) *HostError {
	return &HostError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a HostError wrapping an underlying error.
func Wrap(code ErrorCode, err error, format string, args ...interface{}) *HostError {
	return &HostError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the ErrorCode of err if it is a HostError, or "" otherwise.
func CodeOf(err error) ErrorCode {
	if he, ok := err.(*HostError); ok {
		return he.Code
	}
	return ""
}

// Is reports whether err is a HostError with the given code, unwrapping as
// needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if he, ok := err.(*HostError); ok && he.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
