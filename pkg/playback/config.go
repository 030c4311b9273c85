// Package playback implements a clocked audio output device.
//
// A Device mixes buffers that were scheduled at absolute start times on its
// own clock, renders the mix in fixed blocks to an audioio.Sink and exposes
// a small frequency-domain view of what is currently audible. The clock
// counts rendered frames, so it advances exactly as fast as audio leaves
// the device.
package playback

import (
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultSampleRate = 48000
	DefaultBlockSize  = 480 // 10 ms at 48 kHz
	DefaultFFTSize    = 64

	// Analyser dB range and smoothing, matching browser analyser defaults.
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
	DefaultSmoothing   = 0.8
)

// Config configures a Device.
type Config struct {
	// SampleRate is the native output rate.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// BlockSize is the number of frames rendered per tick.
	BlockSize int `yaml:"block_size" json:"block_size"`

	// FFTSize is the analyser window; Analyse yields FFTSize/2 bins.
	FFTSize int `yaml:"fft_size" json:"fft_size"`

	MinDecibels float64 `yaml:"min_decibels" json:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels" json:"max_decibels"`

	// Smoothing is the analyser's time constant in [0, 1).
	Smoothing float64 `yaml:"smoothing" json:"smoothing"`
}

// DefaultConfig returns a 48 kHz device with a 64-point analyser.
func DefaultConfig() Config {
	return Config{
		SampleRate:  DefaultSampleRate,
		BlockSize:   DefaultBlockSize,
		FFTSize:     DefaultFFTSize,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		Smoothing:   DefaultSmoothing,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("playback: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("playback: block_size must be positive, got %d", c.BlockSize)
	}
	if c.FFTSize < 2 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("playback: fft_size must be a power of two >= 2, got %d", c.FFTSize)
	}
	if c.MinDecibels >= c.MaxDecibels {
		return fmt.Errorf("playback: min_decibels (%v) must be below max_decibels (%v)", c.MinDecibels, c.MaxDecibels)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("playback: smoothing must be in [0, 1), got %v", c.Smoothing)
	}
	return nil
}

// BlockDuration returns the wall time covered by one rendered block.
func (c Config) BlockDuration() time.Duration {
	return time.Duration(c.BlockSize) * time.Second / time.Duration(c.SampleRate)
}
