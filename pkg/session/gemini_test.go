package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestGemini(t *testing.T, srv *httptest.Server, opts ...Option) *Gemini {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = wsURL(srv)
	cfg.KeepaliveInterval = 0
	g, err := NewGemini(cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	return g
}

func writeServerJSON(conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func nextEvent(t *testing.T, s Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestConnect_SendsSetup(t *testing.T) {
	type setupSeen struct {
		key   string
		setup setupMessage
	}
	seen := make(chan setupSeen, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var msg setupMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		seen <- setupSeen{key: r.URL.Query().Get("key"), setup: msg}
		_, _, _ = conn.ReadMessage()
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "Be a friendly avatar.")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	got := <-seen
	if got.key != "test-key" {
		t.Errorf("Expected API key in query, got %q", got.key)
	}
	if got.setup.Setup.Model != "models/"+DefaultModel {
		t.Errorf("Unexpected model %q", got.setup.Setup.Model)
	}
	if si := got.setup.Setup.SystemInstruction; si == nil || si.Parts[0].Text != "Be a friendly avatar." {
		t.Errorf("System instruction missing: %+v", si)
	}
	sc := got.setup.Setup.GenerationConfig.SpeechConfig
	if sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != DefaultVoice {
		t.Errorf("Voice missing: %+v", sc)
	}
}

func TestSendRealtimeInput_HeldUntilSetupComplete(t *testing.T) {
	done := make(chan struct{})
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		defer close(done)
		var setup setupMessage
		_ = conn.ReadJSON(&setup)

		_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("input arrived before setupComplete")
		}
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if err := s.SendRealtimeInput([]byte{1, 2}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}
	<-done
}

func TestSendRealtimeInput_OrderPreserved(t *testing.T) {
	received := make(chan []string, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		writeServerJSON(conn, map[string]any{"setupComplete": map[string]any{}})

		var payloads []string
		for i := 0; i < 3; i++ {
			var msg realtimeInputMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Errorf("read input: %v", err)
				break
			}
			chunk := msg.RealtimeInput.MediaChunks[0]
			if chunk.MIMEType != "audio/pcm;rate=16000" {
				t.Errorf("Unexpected mime %q", chunk.MIMEType)
			}
			payloads = append(payloads, chunk.Data)
		}
		received <- payloads
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	// Sent before the ack has been processed; must still arrive in order.
	for i := byte(1); i <= 3; i++ {
		if err := s.SendRealtimeInput([]byte{i, i}); err != nil {
			t.Fatalf("SendRealtimeInput: %v", err)
		}
	}

	got := <-received
	for i, p := range got {
		raw, _ := base64.StdEncoding.DecodeString(p)
		if raw[0] != byte(i+1) {
			t.Errorf("Block %d out of order: %v", i, raw)
		}
	}
}

func TestEvents_ServerContent(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 3})
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		writeServerJSON(conn, map[string]any{"setupComplete": map[string]any{}})
		writeServerJSON(conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []map[string]any{
				{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": audio}},
				{"text": "ignored"},
			}},
		}})
		writeServerJSON(conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeServerJSON(conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	want := []EventKind{EventOpen, EventAudio, EventInterrupted, EventTurnComplete, EventClosed}
	for i, kind := range want {
		ev := nextEvent(t, s)
		if ev.Kind != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, ev.Kind)
		}
		if kind == EventAudio && ev.Audio != audio {
			t.Errorf("Unexpected audio payload %q", ev.Audio)
		}
	}
	if _, ok := <-s.Events(); ok {
		t.Error("Expected event channel to close after EventClosed")
	}
}

func TestEvents_RemoteError(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		writeServerJSON(conn, map[string]any{"error": map[string]any{
			"code": 403, "message": "permission denied", "status": "PERMISSION_DENIED",
		}})
		_, _, _ = conn.ReadMessage()
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	ev := nextEvent(t, s)
	var remote *RemoteError
	if ev.Kind != EventError || !errors.As(ev.Err, &remote) {
		t.Fatalf("Expected remote error event, got %s %v", ev.Kind, ev.Err)
	}
	if remote.Status != "PERMISSION_DENIED" {
		t.Errorf("Unexpected status %q", remote.Status)
	}
	if ev := nextEvent(t, s); ev.Kind != EventClosed {
		t.Errorf("Expected EventClosed after error, got %s", ev.Kind)
	}
}

func TestEvents_AbruptDisconnect(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		writeServerJSON(conn, map[string]any{"setupComplete": map[string]any{}})
		// Returning closes the TCP connection without a close frame.
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if ev := nextEvent(t, s); ev.Kind != EventOpen {
		t.Fatalf("Expected open, got %s", ev.Kind)
	}
	ev := nextEvent(t, s)
	var connErr *ConnectionError
	if ev.Kind != EventError || !errors.As(ev.Err, &connErr) {
		t.Fatalf("Expected connection error, got %s %v", ev.Kind, ev.Err)
	}
	if !IsRetryable(ev.Err) {
		t.Error("Expected lost connection to be retryable")
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	g := newTestGemini(t, srv)
	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.SendRealtimeInput([]byte{0, 0}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestConnect_BearerToken(t *testing.T) {
	auth := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		_, _, _ = conn.ReadMessage()
	})

	cfg := DefaultConfig()
	cfg.BaseURL = wsURL(srv)
	cfg.KeepaliveInterval = 0
	g, err := NewGemini(cfg,
		WithLogger(testLogger()),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})),
	)
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}

	s, err := g.Connect(context.Background(), "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if got := <-auth; got != "Bearer tok" {
		t.Errorf("Expected bearer header, got %q", got)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "k"
	cfg.BaseURL = "ws://127.0.0.1:1"
	g, _ := NewGemini(cfg, WithLogger(testLogger()))

	_, err := g.Connect(context.Background(), "")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
}

func TestNewGemini_MissingCredentials(t *testing.T) {
	if _, err := NewGemini(DefaultConfig()); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Expected ErrMissingCredentials, got %v", err)
	}
}

func TestEventKind_String(t *testing.T) {
	tests := map[EventKind]string{
		EventOpen:        "open",
		EventAudio:       "audio",
		EventInterrupted: "interrupted",
		EventClosed:      "closed",
		EventKind(99):    "unknown",
	}
	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("%d: expected %q, got %q", kind, want, got)
		}
	}
}
