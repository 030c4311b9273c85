package audiostream

import (
	"errors"
	"fmt"
)

// Sentinel errors for the audiostream package.
var (
	// ErrDeviceAccess indicates the microphone or output device could not
	// be opened.
	ErrDeviceAccess = errors.New("audiostream: device unavailable")

	// ErrAlreadyConnected is returned by Connect on a connected engine.
	ErrAlreadyConnected = errors.New("audiostream: already connected")

	// ErrNotConnected is returned by a Connect that Disconnect aborted.
	ErrNotConnected = errors.New("audiostream: not connected")

	// ErrDecode indicates an inbound audio payload could not be decoded.
	// The chunk is dropped and the stream continues.
	ErrDecode = errors.New("audiostream: undecodable audio chunk")
)

// StreamError is a fatal remote-session failure. It tears the engine down.
type StreamError struct {
	// Reason describes what failed.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("audiostream: stream error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("audiostream: stream error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *StreamError) Unwrap() error {
	return e.Cause
}
