package session

import (
	"context"
	"sync"
)

// MockSession is a scripted Session for tests. Tests push inbound events
// with Emit and inspect outbound audio with Sent.
type MockSession struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	events  chan Event
	done    chan struct{}
	SendErr error
}

var _ Session = (*MockSession)(nil)

// NewMockSession creates a mock session.
func NewMockSession() *MockSession {
	return &MockSession{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns "mock".
func (m *MockSession) ID() string { return "mock" }

// SendRealtimeInput records pcm.
func (m *MockSession) SendRealtimeInput(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	m.sent = append(m.sent, cp)
	return nil
}

// Sent returns the recorded outbound blocks in order.
func (m *MockSession) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Emit delivers ev to the consumer. It returns false once the session
// is closed.
func (m *MockSession) Emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Events returns the event stream. It is never closed; consumers stop
// reading when they close the session.
func (m *MockSession) Events() <-chan Event { return m.events }

// Close marks the session closed.
func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Closed reports whether Close was called.
func (m *MockSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer returns a prepared MockSession or a connect error.
type MockDialer struct {
	mu           sync.Mutex
	Session      *MockSession
	Err          error
	Instructions []string
}

var _ Dialer = (*MockDialer)(nil)

// Connect records the instruction and returns Session or Err.
func (d *MockDialer) Connect(ctx context.Context, systemInstruction string) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Instructions = append(d.Instructions, systemInstruction)
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Session == nil {
		d.Session = NewMockSession()
	}
	return d.Session, nil
}
