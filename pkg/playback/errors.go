package playback

import "errors"

var (
	// ErrClosed is returned when scheduling on a closed device.
	ErrClosed = errors.New("playback: device closed")

	// ErrEmptyBuffer is returned when scheduling a buffer with no samples.
	ErrEmptyBuffer = errors.New("playback: empty buffer")
)
