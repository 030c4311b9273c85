package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceAccess means the camera could not be opened.
	ErrDeviceAccess = errors.New("tracking: camera unavailable")

	// ErrModelInit means the landmark model failed to load. The failure
	// is remembered; the model is not reloaded.
	ErrModelInit = errors.New("tracking: model initialization failed")

	// ErrAlreadyRunning is returned by Start on a running source.
	ErrAlreadyRunning = errors.New("tracking: already running")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tracking: source closed")
)

// FrameError is a failed inference on one camera frame. It is transient:
// the tick is skipped and the loop continues.
type FrameError struct {
	Seq   uint64
	Cause error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("tracking: frame %d: %v", e.Seq, e.Cause)
}

func (e *FrameError) Unwrap() error {
	return e.Cause
}
