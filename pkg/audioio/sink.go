package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Sink plays audio on a speaker or forwards it to a remote listener.
type Sink interface {
	// Start opens the output device.
	Start(ctx context.Context) error

	// Stop halts playback. It is safe to call Stop multiple times.
	Stop() error

	// Write sends a chunk to the output. It may block while the
	// device buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Clear discards any audio buffered by the sink.
	Clear() error

	// Config returns the output configuration.
	Config() Config

	// Name returns the backend name (e.g., "alsa", "webrtc", "mock").
	Name() string

	io.Closer
}

// SinkStats contains playback statistics.
type SinkStats struct {
	ChunksWritten  int64  `json:"chunks_written"`
	SamplesWritten int64  `json:"samples_written"`
	Underruns      int64  `json:"underruns"`
	Running        bool   `json:"running"`
	Backend        string `json:"backend"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}

// MultiSink fans one playback stream out to several sinks, e.g. the local
// speaker and the browser track. Write errors from individual sinks are
// joined; every sink still receives the chunk.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink returns a sink writing to every non-nil sink in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Start starts every sink, stopping those already started on failure.
func (m *MultiSink) Start(ctx context.Context) error {
	for i, s := range m.sinks {
		if err := s.Start(ctx); err != nil {
			for _, started := range m.sinks[:i] {
				_ = started.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops every sink.
func (m *MultiSink) Stop() error {
	return m.each(Sink.Stop)
}

// Write writes chunk to every sink.
func (m *MultiSink) Write(ctx context.Context, chunk AudioChunk) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, chunk); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Clear clears every sink.
func (m *MultiSink) Clear() error {
	return m.each(Sink.Clear)
}

// Config returns the first sink's configuration.
func (m *MultiSink) Config() Config {
	if len(m.sinks) == 0 {
		return DefaultConfig()
	}
	return m.sinks[0].Config()
}

// Name returns "multi".
func (m *MultiSink) Name() string { return "multi" }

// Close closes every sink.
func (m *MultiSink) Close() error {
	return m.each(Sink.Close)
}

func (m *MultiSink) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shared wraps a sink that outlives its users, such as the browser track
// reused across voice sessions. Close on the wrapper only stops the sink.
func Shared(s Sink) Sink {
	return sharedSink{s}
}

type sharedSink struct {
	Sink
}

func (s sharedSink) Close() error {
	return s.Sink.Stop()
}
