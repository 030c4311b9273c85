package audioio

import "errors"

var (
	// ErrClosed is returned when operating on a closed source or sink.
	ErrClosed = errors.New("audioio: closed")

	// ErrNotRunning is returned by Write on a sink that was not started.
	ErrNotRunning = errors.New("audioio: not running")

	// ErrDeviceUnavailable is returned when a capture or playback device
	// cannot be opened (missing, busy or permission denied).
	ErrDeviceUnavailable = errors.New("audioio: device unavailable")

	// ErrUnsupportedBackend is returned for unknown backend names.
	ErrUnsupportedBackend = errors.New("audioio: unsupported backend")
)
