// Package session connects to a remote voice-AI model.
//
// A Session carries microphone audio out and delivers everything the remote
// side says as a single ordered stream of Events. Consumers dispatch on
// Event.Kind from one goroutine; there are no per-message callbacks.
package session

import "context"

// EventKind identifies an inbound session event.
type EventKind int

const (
	// EventOpen is delivered once the remote side has accepted the setup.
	EventOpen EventKind = iota
	// EventAudio carries one base64 PCM16 payload at OutputSampleRate.
	EventAudio
	// EventInterrupted signals that the user barged in; buffered model
	// audio is stale.
	EventInterrupted
	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete
	// EventError reports a fatal session error. EventClosed follows.
	EventError
	// EventClosed is the last event of every session.
	EventClosed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Fixed audio contract with the remote model.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Event is one inbound message.
type Event struct {
	Kind EventKind

	// Audio is the base64 payload for EventAudio, undecoded.
	Audio string

	// MIMEType accompanies Audio, e.g. "audio/pcm;rate=24000".
	MIMEType string

	// Err is set for EventError.
	Err error
}

// Session is an established remote voice session.
type Session interface {
	// ID identifies the session in logs.
	ID() string

	// SendRealtimeInput queues one PCM16 little-endian block at
	// InputSampleRate. Blocks sent before the session is open are held
	// and delivered in order once it opens.
	SendRealtimeInput(pcm []byte) error

	// Events returns the inbound event stream. It is closed after
	// EventClosed.
	Events() <-chan Event

	// Close ends the session. It is idempotent.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	// Connect opens a session primed with the given system instruction.
	Connect(ctx context.Context, systemInstruction string) (Session, error)
}
