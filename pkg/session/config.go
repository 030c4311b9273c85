package session

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultBaseURL is the Gemini Live websocket endpoint.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	DefaultModel = "gemini-2.0-flash-live-001"
	DefaultVoice = "Puck"

	// OAuthScope is requested when authenticating with application
	// default credentials.
	OAuthScope = "https://www.googleapis.com/auth/generative-language"
)

// Config configures a Gemini Live dialer.
type Config struct {
	// APIKey authenticates with a key query parameter.
	APIKey string

	// UseADC authenticates with a bearer token from Google application
	// default credentials instead of an API key.
	UseADC bool

	// Model is the model name without the "models/" prefix.
	Model string

	// Voice is the prebuilt voice name (Puck, Charon, Kore, Fenrir, Aoede).
	Voice string

	// BaseURL overrides the websocket endpoint.
	BaseURL string

	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration

	// SendQueue bounds the number of outbound blocks held while the
	// connection is slow or not yet open.
	SendQueue int
}

// DefaultConfig returns the defaults. Credentials must still be set.
func DefaultConfig() Config {
	return Config{
		Model:             DefaultModel,
		Voice:             DefaultVoice,
		BaseURL:           DefaultBaseURL,
		HandshakeTimeout:  10 * time.Second,
		KeepaliveInterval: 20 * time.Second,
		SendQueue:         256,
	}
}

// Validate checks the configuration. Credentials are checked by NewGemini,
// since a token source may also be supplied as an option.
func (c Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("session: model is required"))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("session: send_queue must be positive, got %d", c.SendQueue))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session: handshake_timeout must be positive, got %v", c.HandshakeTimeout))
	}
	return errors.Join(errs...)
}
