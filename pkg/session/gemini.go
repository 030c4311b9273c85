package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/go-avatar/internal/httpc"
)

const (
	writeTimeout = 5 * time.Second
	closeTimeout = time.Second
	eventBuffer  = 64
)

// Gemini dials Gemini Live sessions.
type Gemini struct {
	cfg    Config
	logger *slog.Logger
	tokens oauth2.TokenSource
	dialer *websocket.Dialer
}

var _ Dialer = (*Gemini)(nil)

// Option configures a Gemini dialer.
type Option func(*Gemini)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gemini) { g.logger = logger }
}

// WithTokenSource authenticates with bearer tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(g *Gemini) { g.tokens = ts }
}

// NewGemini creates a dialer.
func NewGemini(cfg Config, opts ...Option) (*Gemini, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gemini{
		cfg:    cfg,
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.APIKey == "" && !cfg.UseADC && g.tokens == nil {
		return nil, ErrMissingCredentials
	}
	g.logger = g.logger.With("component", "session")
	return g, nil
}

// Connect dials the endpoint, sends the setup message and returns the
// session. Audio may be sent immediately; it is held until the remote
// side acknowledges the setup.
func (g *Gemini) Connect(ctx context.Context, systemInstruction string) (Session, error) {
	endpoint, header, err := g.authorize(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := g.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		retryable := resp == nil || resp.StatusCode >= http.StatusInternalServerError
		return nil, NewConnectionError("dial", err, retryable)
	}

	s := newLiveSession(conn, g.cfg, g.logger)
	if err := s.writeJSON(g.setup(systemInstruction)); err != nil {
		_ = conn.Close()
		return nil, NewConnectionError("send setup", err, true)
	}
	s.start()

	g.logger.Info("session connected", "session", s.id, "model", g.cfg.Model, "voice", g.cfg.Voice)
	return s, nil
}

func (g *Gemini) authorize(ctx context.Context) (string, http.Header, error) {
	header := make(http.Header)
	if g.cfg.APIKey != "" {
		sep := "?"
		if strings.Contains(g.cfg.BaseURL, "?") {
			sep = "&"
		}
		return g.cfg.BaseURL + sep + "key=" + url.QueryEscape(g.cfg.APIKey), header, nil
	}

	ts := g.tokens
	if ts == nil {
		var err error
		// The cached source refreshes tokens after this call returns.
		ts, err = google.DefaultTokenSource(httpc.OAuthContext(context.WithoutCancel(ctx)), OAuthScope)
		if err != nil {
			return "", nil, NewConnectionError("application default credentials", err, false)
		}
		g.tokens = ts
	}
	tok, err := ts.Token()
	if err != nil {
		return "", nil, NewConnectionError("token", err, true)
	}
	header.Set("Authorization", "Bearer "+tok.AccessToken)
	return g.cfg.BaseURL, header, nil
}

func (g *Gemini) setup(instruction string) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + strings.TrimPrefix(g.cfg.Model, "models/"),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if g.cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: g.cfg.Voice}},
		}
	}
	if instruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: instruction}}}
	}
	return msg
}

// liveSession is one Gemini Live websocket. The read loop owns events and
// is the only goroutine that closes it. Until setupComplete arrives the
// write loop holds queued input.
type liveSession struct {
	id        string
	conn      *websocket.Conn
	logger    *slog.Logger
	keepalive time.Duration

	events  chan Event
	sendQ   chan []byte
	ready   chan struct{}
	closing chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	readyOnce sync.Once
	closeOnce sync.Once
}

func newLiveSession(conn *websocket.Conn, cfg Config, logger *slog.Logger) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &liveSession{
		id:        id,
		conn:      conn,
		logger:    logger.With("session", id),
		keepalive: cfg.KeepaliveInterval,
		events:    make(chan Event, eventBuffer),
		sendQ:     make(chan []byte, cfg.SendQueue),
		ready:     make(chan struct{}),
		closing:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *liveSession) start() {
	go s.readLoop()
	go s.writeLoop()
	if s.keepalive > 0 {
		go s.keepaliveLoop()
	}
}

// ID returns the session id.
func (s *liveSession) ID() string { return s.id }

// Events returns the inbound event stream.
func (s *liveSession) Events() <-chan Event { return s.events }

// SendRealtimeInput queues one block of 16 kHz PCM16.
func (s *liveSession) SendRealtimeInput(pcm []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []inlineData{{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate),
			Data:     base64.StdEncoding.EncodeToString(pcm),
		}}},
	})
	if err != nil {
		return fmt.Errorf("session: marshal input: %w", err)
	}

	select {
	case s.sendQ <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *liveSession) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *liveSession) writeLoop() {
	select {
	case <-s.ready:
	case <-s.ctx.Done():
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sendQ:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Warn("session write failed", "error", err)
					// Unblocks the read loop, which reports the failure.
					_ = s.conn.Close()
				}
				return
			}
		}
	}
}

func (s *liveSession) keepaliveLoop() {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

func (s *liveSession) readLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.emit(Event{Kind: EventError, Err: NewConnectionError("read", err, true)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("skipping malformed server message", "error", err)
			continue
		}
		if !s.dispatch(&msg) {
			return
		}
	}
}

// dispatch converts one server message into events. It returns false
// when the session must end.
func (s *liveSession) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		s.emit(Event{Kind: EventError, Err: &RemoteError{
			Code:    msg.Error.Code,
			Status:  msg.Error.Status,
			Message: msg.Error.Message,
		}})
		return false
	}
	if msg.SetupComplete != nil {
		s.readyOnce.Do(func() { close(s.ready) })
		if !s.emit(Event{Kind: EventOpen}) {
			return false
		}
	}
	if msg.GoAway != nil {
		s.logger.Warn("server requested disconnect")
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			if !s.emit(Event{Kind: EventAudio, Audio: p.InlineData.Data, MIMEType: p.InlineData.MIMEType}) {
				return false
			}
		}
	}
	if sc.Interrupted && !s.emit(Event{Kind: EventInterrupted}) {
		return false
	}
	if sc.TurnComplete && !s.emit(Event{Kind: EventTurnComplete}) {
		return false
	}
	return true
}

// emit delivers ev unless the session is being closed locally.
func (s *liveSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closing:
		return false
	}
}

func (s *liveSession) finish() {
	s.cancel()
	_ = s.conn.Close()
	select {
	case s.events <- Event{Kind: EventClosed}:
	case <-s.closing:
	}
	close(s.events)
	s.logger.Info("session closed")
}

func (s *liveSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close sends a close frame and tears the connection down.
func (s *liveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.closing)
		s.cancel()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.logger.Debug("close frame not sent", "error", werr)
		}
		err = s.conn.Close()
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
