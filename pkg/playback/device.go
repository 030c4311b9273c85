package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-avatar/pkg/audioio"
)

// voice is one scheduled buffer.
type voice struct {
	start   int64 // first frame on the device clock
	samples []float32
	onEnded func()
}

func (v *voice) end() int64 { return v.start + int64(len(v.samples)) }

// Device is a mono software output device. The zero value is not usable;
// construct with New.
type Device struct {
	cfg    Config
	sink   audioio.Sink
	logger *slog.Logger
	manual bool

	mu       sync.Mutex
	rendered int64 // frames rendered so far; the device clock
	voices   []*voice
	analyser *analyser
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Device.
type Option func(*Device)

// WithManualClock disables real-time pacing. The clock only advances
// through Advance, which makes scheduling deterministic in tests.
func WithManualClock() Option {
	return func(d *Device) { d.manual = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// New creates a device rendering into sink. A nil sink discards output.
func New(cfg Config, sink audioio.Sink, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:      cfg,
		sink:     sink,
		logger:   slog.Default(),
		analyser: newAnalyser(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "playback")
	return d, nil
}

// Start starts the sink and, unless the clock is manual, the pacing
// goroutine that renders one block per block duration.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.done != nil {
		return nil
	}
	if d.sink != nil {
		if err := d.sink.Start(ctx); err != nil {
			return fmt.Errorf("playback: start sink: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	if d.manual {
		close(d.done)
		return nil
	}
	go d.run(runCtx, d.done)

	d.logger.Info("playback device started",
		"sample_rate", d.cfg.SampleRate,
		"block_ms", d.cfg.BlockDuration().Milliseconds(),
	)
	return nil
}

func (d *Device) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.BlockDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block := d.render(d.cfg.BlockSize)
			if d.sink == nil {
				continue
			}
			chunk := audioio.AudioChunk{
				Samples:    audioio.Float32ToSamples(block),
				SampleRate: d.cfg.SampleRate,
				Channels:   1,
			}
			if err := d.sink.Write(ctx, chunk); err != nil && ctx.Err() == nil {
				d.logger.Debug("sink write failed", "error", err)
			}
		}
	}
}

// Advance renders frames synchronously and returns the mixed output.
// Intended for devices created with WithManualClock.
func (d *Device) Advance(frames int) []float32 {
	return d.render(frames)
}

// AdvanceTime renders the number of frames covering dur.
func (d *Device) AdvanceTime(dur time.Duration) []float32 {
	return d.render(int(math.Round(dur.Seconds() * float64(d.cfg.SampleRate))))
}

// render mixes the next n frames, advances the clock and fires onEnded
// for every buffer that finished within the block. Callbacks run after
// the lock is released and in end-time order.
func (d *Device) render(n int) []float32 {
	out := make([]float32, n)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return out
	}
	from, to := d.rendered, d.rendered+int64(n)

	var ended []*voice
	keep := d.voices[:0]
	for _, v := range d.voices {
		lo, hi := max(v.start, from), min(v.end(), to)
		for f := lo; f < hi; f++ {
			out[f-from] += v.samples[f-v.start]
		}
		if v.end() <= to {
			ended = append(ended, v)
		} else {
			keep = append(keep, v)
		}
	}
	for i := len(keep); i < len(d.voices); i++ {
		d.voices[i] = nil
	}
	d.voices = keep
	d.rendered = to
	d.analyser.push(out)
	d.mu.Unlock()

	for _, v := range ended {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
	return out
}

// Now returns the device clock in seconds.
func (d *Device) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.rendered) / float64(d.cfg.SampleRate)
}

// SampleRate returns the native output rate.
func (d *Device) SampleRate() int {
	return d.cfg.SampleRate
}

// Schedule queues samples to begin at startAt seconds on the device
// clock. A start time already in the past begins at the next rendered
// frame. onEnded, if non-nil, is called once when the last frame has
// been rendered.
func (d *Device) Schedule(samples []float32, startAt float64, onEnded func()) error {
	if len(samples) == 0 {
		return ErrEmptyBuffer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	start := int64(math.Round(startAt * float64(d.cfg.SampleRate)))
	if start < d.rendered {
		start = d.rendered
	}
	d.voices = append(d.voices, &voice{start: start, samples: samples, onEnded: onEnded})
	return nil
}

// Pending returns the number of buffers scheduled or playing.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.voices)
}

// Analyse writes the analyser's byte frequency data into dst and returns
// the number of bins written (at most FFTSize/2).
func (d *Device) Analyse(dst []uint8) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.analyser.bytes(dst)
}

// Bins returns the number of analyser bins.
func (d *Device) Bins() int {
	return d.cfg.FFTSize / 2
}

// Close stops pacing, discards scheduled buffers without firing their
// callbacks and closes the sink. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.voices = nil
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			return fmt.Errorf("playback: close sink: %w", err)
		}
	}
	d.logger.Debug("playback device closed")
	return nil
}
