package audioio

import (
	"context"
	"io"
	"time"
)

// AudioChunk is one block of PCM16 audio.
type AudioChunk struct {
	// Samples contains PCM16 samples, interleaved when Channels > 1.
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int

	// Seq is the arrival order assigned by the producing source, starting at 1.
	Seq uint64
}

// Bytes returns the chunk as little-endian PCM16 bytes.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from little-endian PCM16 bytes.
// A trailing odd byte is ignored.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the playback duration of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source captures audio from a microphone.
//
// A started source delivers fixed-size blocks of Config().BlockSize frames
// on Stream. The channel is closed when the source stops.
type Source interface {
	// Start opens the capture device. Failure to open the device is
	// reported as ErrDeviceUnavailable.
	Start(ctx context.Context) error

	// Stop halts capture. It is safe to call Stop multiple times.
	Stop() error

	// Stream returns the block channel for the current capture run.
	Stream() <-chan AudioChunk

	// Config returns the capture configuration.
	Config() Config

	// Name returns the backend name (e.g., "alsa", "sox", "mock").
	Name() string

	io.Closer
}

// SourceStats contains capture statistics.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
