// Package errors provides structured error handling for flowsync.
// Every error carries a type from the sync error taxonomy so that the
// request executor and the backoff policy can decide whether an
// operation is worth retrying without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeRateLimit represents a rate-limited request (HTTP 429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer represents a server-side failure (HTTP 5xx)
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeTimeout represents a timed-out request
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents a network-level failure
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeClient represents a permanent client error (4xx other than 429)
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeCancelled represents a caller-initiated cancellation
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents malformed response or record errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeState represents state store errors
	ErrorTypeState ErrorType = "state"
	// ErrorTypeSink represents destination write errors
	ErrorTypeSink ErrorType = "sink"
	// ErrorTypeAuthentication represents credential errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeCapability represents unsupported feature errors
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// TypeOf returns the error type, or ErrorTypeInternal for foreign errors
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// IsRetryable returns true if the error represents a transient failure
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeRateLimit, ErrorTypeServer, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// retryAfterKey is the detail key carrying a server-supplied wait hint.
const retryAfterKey = "retry_after"

// WithRetryAfter attaches a server-supplied wait hint to the error
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	return e.WithDetail(retryAfterKey, d)
}

// RetryAfter extracts the server-supplied wait hint, if any. The whole
// chain is searched so wrapping a rate-limit error keeps the hint.
func RetryAfter(err error) (time.Duration, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Details != nil {
			if d, ok := e.Details[retryAfterKey].(time.Duration); ok {
				return d, true
			}
		}
		err = errors.Unwrap(err)
	}
	return 0, false
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 16
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
