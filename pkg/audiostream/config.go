// Package audiostream implements the duplex voice engine.
//
// Outbound, it captures 16 kHz mono microphone blocks, meters them and
// forwards them to the remote session in order. Inbound, it decodes 24 kHz
// PCM payloads to the output device rate and schedules them back to back
// on the device clock, tracking whether the AI voice is audible. A separate
// meter samples the output spectrum on a fixed interval.
package audiostream

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/session"
)

// Fixed audio contract.
const (
	CaptureSampleRate = audioio.CaptureSampleRate
	CaptureBlockSize  = audioio.CaptureBlockSize
	SourceSampleRate  = session.OutputSampleRate

	// AmplitudeBins is the number of frequency bins read per meter tick.
	AmplitudeBins = 32

	// AmplitudeScale normalises the bin average.
	AmplitudeScale = 128.0
)

// Defaults for tunables.
const (
	DefaultSpeakingStopTolerance = 100 * time.Millisecond
	DefaultMeterInterval         = 50 * time.Millisecond
	DefaultEventBuffer           = 64
)

// Config configures an Engine.
type Config struct {
	// Backend selects the local audio backend for capture and playback.
	Backend audioio.Backend

	CaptureDevice  string
	PlaybackDevice string

	// OutputSampleRate is the output device's native rate.
	OutputSampleRate int

	// SpeakingStopTolerance is how close the device clock must be to the
	// end of scheduled audio for a finished buffer to end speech.
	SpeakingStopTolerance time.Duration

	// MeterInterval is the output amplitude sampling period.
	MeterInterval time.Duration

	// Instructions is the system instruction sent on Connect when the
	// caller passes none.
	Instructions string
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Backend:               audioio.BackendAuto,
		OutputSampleRate:      48000,
		SpeakingStopTolerance: DefaultSpeakingStopTolerance,
		MeterInterval:         DefaultMeterInterval,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.OutputSampleRate <= 0 {
		return fmt.Errorf("audiostream: output_sample_rate must be positive, got %d", c.OutputSampleRate)
	}
	if c.SpeakingStopTolerance < 0 {
		return fmt.Errorf("audiostream: speaking_stop_tolerance must not be negative, got %v", c.SpeakingStopTolerance)
	}
	if c.MeterInterval <= 0 {
		return fmt.Errorf("audiostream: meter_interval must be positive, got %v", c.MeterInterval)
	}
	return nil
}
