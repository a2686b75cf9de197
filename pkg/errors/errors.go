package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a failure talking to an external collaborator
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// RetryAfter is the wait mandated by a rate-limit response.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Type == ErrorTypeRateLimit {
		return fmt.Sprintf("%s error (code %d): %s, retry after %s", e.Type, e.Code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// New creates a typed error
func New(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Code: code, Message: message}
}

// RateLimited creates a rate-limit error carrying the mandated wait
func RateLimited(wait time.Duration, message string) *Error {
	return &Error{Type: ErrorTypeRateLimit, Code: 429, Message: message, RetryAfter: wait}
}

// RetryAfter reports the mandated wait if err is, or wraps, a rate-limit error
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if !stderrors.As(err, &e) || e.Type != ErrorTypeRateLimit {
		return 0, false
	}
	return e.RetryAfter, true
}

// IsType reports whether err is, or wraps, an Error of the given type
func IsType(err error, t ErrorType) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Type == t
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}
