// Package audioio provides audio capture and playback devices.
//
// Backends:
//   - ALSA (Linux) - arecord/aplay child processes speaking raw PCM16
//   - SoX (macOS) - rec/play child processes speaking raw PCM16
//   - WebRTC - Opus-encoded audio track for a browser renderer (sink only)
//   - Mock - tests and CI without hardware
//
// The backend is selected from the platform when Config.Backend is "auto".
package audioio

import (
	"fmt"
)

// Backend names an audio backend.
type Backend string

const (
	// BackendAuto selects the best available backend for the platform.
	BackendAuto Backend = "auto"
	// BackendALSA uses arecord/aplay.
	BackendALSA Backend = "alsa"
	// BackendSox uses SoX rec/play.
	BackendSox Backend = "sox"
	// BackendMock uses in-memory fakes.
	BackendMock Backend = "mock"
)

// Capture defaults for the microphone path.
const (
	// CaptureSampleRate is the fixed microphone rate sent to the session.
	CaptureSampleRate = 16000

	// CaptureBlockSize is the number of frames per capture block.
	CaptureBlockSize = 2048
)

// Config holds audio device configuration.
type Config struct {
	// Backend selects the audio backend. Default: "auto".
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the device sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of channels. Default: 1.
	Channels int `yaml:"channels" json:"channels"`

	// BlockSize is the number of frames per block.
	BlockSize int `yaml:"block_size" json:"block_size"`

	// Device is the platform-specific device identifier, e.g. "hw:0,0"
	// or "plughw:1,0" for ALSA. Empty means the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns the capture configuration: 16 kHz mono in
// 2048-frame blocks.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendAuto,
		SampleRate: CaptureSampleRate,
		Channels:   1,
		BlockSize:  CaptureBlockSize,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	return nil
}

// BlockSamples returns the number of interleaved samples in one block.
func (c *Config) BlockSamples() int {
	return c.BlockSize * c.Channels
}

// BlockBytes returns the size of one block in bytes.
func (c *Config) BlockBytes() int {
	return c.BlockSamples() * 2
}
