package audiostream

// EventKind identifies an engine event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventSpeakingStart
	EventSpeakingStop
	EventUserVolume
	EventAIVolume
	EventError
)

// String returns the event name used on the wire.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventSpeakingStart:
		return "ai_speaking_start"
	case EventSpeakingStop:
		return "ai_speaking_stop"
	case EventUserVolume:
		return "user_volume"
	case EventAIVolume:
		return "ai_volume"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is published to subscribers.
type Event struct {
	Kind EventKind `json:"kind"`

	// Volume is set for EventUserVolume (RMS) and EventAIVolume
	// (normalised bin average).
	Volume float64 `json:"volume,omitempty"`

	// Message is set for EventError.
	Message string `json:"message,omitempty"`

	// Err is the typed cause for EventError.
	Err error `json:"-"`
}

// subscribers fans events out without blocking the publisher. A slow
// subscriber loses events rather than stalling audio.
type subscribers struct {
	next int
	subs map[int]chan Event
}

func (s *subscribers) add(buffer int) (int, chan Event) {
	if s.subs == nil {
		s.subs = make(map[int]chan Event)
	}
	s.next++
	ch := make(chan Event, buffer)
	s.subs[s.next] = ch
	return s.next, ch
}

func (s *subscribers) remove(id int) {
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *subscribers) publish(ev Event) (dropped int) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}
