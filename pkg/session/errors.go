package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrMissingCredentials indicates neither an API key nor a token
	// source was configured.
	ErrMissingCredentials = errors.New("session: API key or token source is required")

	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("session: closed")

	// ErrQueueFull indicates the outbound queue is saturated.
	ErrQueueFull = errors.New("session: send queue full")
)

// ConnectionError describes a failed or lost connection.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether reconnecting may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("session: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause, Retryable: retryable}
}

// RemoteError is an error reported by the remote model in-band.
type RemoteError struct {
	Code    int
	Status  string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("session: remote error [%s]: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("session: remote error: %s", e.Message)
}

// IsRetryable reports whether err is a retryable connection error.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return false
}
