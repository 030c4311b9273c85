package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-avatar/internal/observe"
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithMetrics counts connected clients in m.RendererClients.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	name    string
	logger  *slog.Logger
	metrics *observe.Metrics

	// clients is only mutated by Run.
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// registerWait bounds how long NewClient waits for Run.
	registerWait time.Duration

	mu      sync.RWMutex
	count   int
	running bool
	last    *Message
}

// New creates a new Hub
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     slog.Default(),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),

		registerWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub", "hub", name)
	return h
}

// Run owns the client set until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		for client := range h.clients {
			h.remove(client)
			h.setCount(context.Background(), -1)
		}
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(ctx, 1)
			h.logger.Info("client connected", "client", client.id, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.setCount(ctx, -1)
			}
			h.logger.Info("client disconnected", "client", client.id, "remaining", len(h.clients))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow to keep up; the write pump sends a close
					// frame and the read pump unregisters.
					h.remove(client)
					h.setCount(ctx, -1)
					h.logger.Warn("dropped slow client", "client", client.id)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) setCount(ctx context.Context, delta int) {
	h.mu.Lock()
	h.count += delta
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RendererClients.Add(ctx, int64(delta))
	}
}

// unregisterClient is a no-op once the hub has stopped or if c was never
// registered.
func (h *Hub) unregisterClient(c *Client) {
	if !c.registered {
		return
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends a message to all connected clients. The message is
// dropped if the broadcast queue is full.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	h.last = &msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	msg, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Last returns the most recently broadcast message.
func (h *Hub) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Message{}, false
	}
	return *h.last, true
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
