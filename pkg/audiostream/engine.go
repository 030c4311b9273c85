package audiostream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-avatar/internal/observe"
	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/playback"
	"github.com/teslashibe/go-avatar/pkg/session"
)

// Output is a clocked playback device. *playback.Device implements it.
type Output interface {
	Start(ctx context.Context) error
	Now() float64
	SampleRate() int
	Schedule(samples []float32, startAt float64, onEnded func()) error
	Analyse(dst []uint8) int
	Close() error
}

var _ Output = (*playback.Device)(nil)

// SourceFactory opens a fresh capture source per connection.
type SourceFactory func() (audioio.Source, error)

// OutputFactory opens a fresh output device per connection.
type OutputFactory func() (Output, error)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSourceFactory replaces the microphone backend.
func WithSourceFactory(f SourceFactory) Option {
	return func(e *Engine) { e.newSource = f }
}

// WithOutputFactory replaces the playback device.
func WithOutputFactory(f OutputFactory) Option {
	return func(e *Engine) { e.newOutput = f }
}

// WithExtraSinks adds sinks that receive the mixed output alongside the
// local speaker, e.g. a browser WebRTC track. Ignored when an output
// factory is set.
func WithExtraSinks(sinks ...audioio.Sink) Option {
	return func(e *Engine) { e.extraSinks = append(e.extraSinks, sinks...) }
}

// connection holds everything acquired by one Connect call.
type connection struct {
	sess   session.Session
	src    audioio.Source
	out    Output
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// attempt is a Connect call in progress.
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// State is a snapshot of the engine.
type State struct {
	Connected      bool    `json:"connected"`
	Speaking       bool    `json:"speaking"`
	NextStartTime  float64 `json:"next_start_time"`
	Pending        int     `json:"pending"`
	UserVolume     float64 `json:"user_volume"`
	AIVolume       float64 `json:"ai_volume"`
	ChunksSent     int64   `json:"chunks_sent"`
	ChunksReceived int64   `json:"chunks_received"`
	DecodeErrors   int64   `json:"decode_errors"`
	Interruptions  int64   `json:"interruptions"`
}

// Engine is the duplex voice engine. All methods are safe for concurrent
// use; state is owned by the engine and read through snapshots.
type Engine struct {
	cfg        Config
	dialer     session.Dialer
	logger     *slog.Logger
	metrics    *observe.Metrics
	newSource  SourceFactory
	newOutput  OutputFactory
	extraSinks []audioio.Sink

	mu         sync.Mutex
	conn       *connection
	connecting *attempt
	gen        uint64
	nextStart  float64
	speaking   bool
	pending    int
	userVol    float64
	aiVol      float64
	sent       int64
	received   int64
	decodeErrs int64
	interrupts int64

	subMu sync.Mutex
	subs  subscribers
}

// New creates an engine that opens sessions through dialer.
func New(cfg Config, dialer session.Dialer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, errors.New("audiostream: dialer is required")
	}
	e := &Engine{
		cfg:    cfg,
		dialer: dialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "audiostream")
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.newSource == nil {
		e.newSource = e.defaultSource
	}
	if e.newOutput == nil {
		e.newOutput = e.defaultOutput
	}
	return e, nil
}

func (e *Engine) defaultSource() (audioio.Source, error) {
	cfg := audioio.DefaultConfig()
	cfg.Backend = e.cfg.Backend
	cfg.Device = e.cfg.CaptureDevice
	return audioio.NewSource(cfg, e.logger)
}

func (e *Engine) defaultOutput() (Output, error) {
	rate := e.cfg.OutputSampleRate
	pcfg := playback.DefaultConfig()
	pcfg.SampleRate = rate
	pcfg.BlockSize = rate / 100

	speaker, err := audioio.NewSink(audioio.Config{
		Backend:    e.cfg.Backend,
		SampleRate: rate,
		Channels:   1,
		BlockSize:  pcfg.BlockSize,
		Device:     e.cfg.PlaybackDevice,
	}, e.logger)
	if err != nil {
		return nil, err
	}

	var sink audioio.Sink = speaker
	if len(e.extraSinks) > 0 {
		sink = audioio.NewMultiSink(append([]audioio.Sink{speaker}, e.extraSinks...)...)
	}
	return playback.New(pcfg, sink, playback.WithLogger(e.logger))
}

// Subscribe returns a channel of engine events and a function that ends
// the subscription. Events are dropped for a subscriber whose buffer is
// full.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	e.subMu.Lock()
	id, ch := e.subs.add(buffer)
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			e.subs.remove(id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) publish(ev Event) {
	e.subMu.Lock()
	dropped := e.subs.publish(ev)
	e.subMu.Unlock()
	if dropped > 0 && ev.Kind != EventUserVolume && ev.Kind != EventAIVolume {
		e.logger.Debug("event dropped for slow subscriber", "event", ev.Kind.String(), "subscribers", dropped)
	}
}

// Connect opens the output device and microphone, then the remote
// session with the given system instruction (Config.Instructions when
// empty). Everything acquired is released again if a later step fails or
// Disconnect is called before the session is up; Connect then returns
// ErrNotConnected.
func (e *Engine) Connect(ctx context.Context, instructions string) (err error) {
	dialCtx, abort := context.WithCancel(ctx)
	a := &attempt{cancel: abort, done: make(chan struct{})}

	e.mu.Lock()
	if e.conn != nil || e.connecting != nil {
		e.mu.Unlock()
		abort()
		return ErrAlreadyConnected
	}
	e.connecting = a
	e.mu.Unlock()

	var release []func()
	defer func() {
		if err != nil {
			for i := len(release) - 1; i >= 0; i-- {
				release[i]()
			}
		}
		abort()
		e.mu.Lock()
		e.connecting = nil
		e.mu.Unlock()
		close(a.done)
	}()

	if instructions == "" {
		instructions = e.cfg.Instructions
	}

	// The connection outlives the request that opened it.
	runCtx, cancel := context.WithCancel(context.Background())
	release = append(release, cancel)

	out, err := e.newOutput()
	if err != nil {
		return fmt.Errorf("%w: output: %w", ErrDeviceAccess, err)
	}
	release = append(release, func() { _ = out.Close() })
	if err := out.Start(runCtx); err != nil {
		return fmt.Errorf("%w: output: %w", ErrDeviceAccess, err)
	}

	src, err := e.newSource()
	if err != nil {
		return fmt.Errorf("%w: microphone: %w", ErrDeviceAccess, err)
	}
	release = append(release, func() { _ = src.Close() })
	if err := src.Start(runCtx); err != nil {
		return fmt.Errorf("%w: microphone: %w", ErrDeviceAccess, err)
	}

	sess, err := e.dialer.Connect(dialCtx, instructions)
	if err != nil {
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: disconnected while dialing", ErrNotConnected)
		}
		return &StreamError{Reason: "connect", Cause: err}
	}
	release = append(release, func() { _ = sess.Close() })

	c := &connection{sess: sess, src: src, out: out, cancel: cancel}

	e.mu.Lock()
	if err := dialCtx.Err(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	e.gen++
	e.conn = c
	e.nextStart = 0
	e.speaking = false
	e.pending = 0
	e.mu.Unlock()

	c.wg.Add(3)
	go e.captureLoop(runCtx, c)
	go e.dispatchLoop(runCtx, c)
	go e.meterLoop(runCtx, c)

	e.logger.Info("voice engine connected",
		"session", sess.ID(),
		"source", src.Name(),
		"output_rate", out.SampleRate(),
	)
	e.publish(Event{Kind: EventConnected})
	return nil
}

// Disconnect stops metering and capture, closes the devices and drops
// the session. A Connect still in progress is aborted and Disconnect
// returns once it has released what it acquired. It is a no-op when not
// connected.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	c, a := e.conn, e.connecting
	e.mu.Unlock()
	if a != nil {
		a.cancel()
		<-a.done
		e.mu.Lock()
		c = e.conn
		e.mu.Unlock()
	}
	if c == nil {
		return nil
	}
	return e.teardown(c, true)
}

// teardown releases c if it is still the active connection. The engine's
// own goroutines pass wait=false since they are among those waited on.
func (e *Engine) teardown(c *connection, wait bool) error {
	e.mu.Lock()
	if e.conn != c {
		e.mu.Unlock()
		return nil
	}
	e.conn = nil
	e.gen++
	wasSpeaking := e.speaking
	e.speaking = false
	e.nextStart = 0
	e.pending = 0
	e.userVol = 0
	e.aiVol = 0
	if wasSpeaking {
		e.publish(Event{Kind: EventSpeakingStop})
	}
	e.mu.Unlock()

	c.cancel()
	var errs []error
	if err := c.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close microphone: %w", err))
	}
	if err := c.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	if err := c.sess.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if wait {
		c.wg.Wait()
	}

	e.logger.Info("voice engine disconnected")
	e.publish(Event{Kind: EventDisconnected})
	return errors.Join(errs...)
}

// fail reports a fatal stream error once and tears the connection down.
func (e *Engine) fail(c *connection, err *StreamError) {
	e.mu.Lock()
	active := e.conn == c
	e.mu.Unlock()
	if !active {
		return
	}

	e.logger.Error("voice stream failed", "error", err)
	e.metrics.StreamErrors.Add(context.Background(), 1)
	e.publish(Event{Kind: EventError, Message: err.Error(), Err: err})
	_ = e.teardown(c, false)
}

func (e *Engine) captureLoop(ctx context.Context, c *connection) {
	defer c.wg.Done()

	stream := c.src.Stream()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if !e.handleCapture(ctx, c, chunk) {
				return
			}
		}
	}
}

// handleCapture meters one microphone block and queues it for sending.
func (e *Engine) handleCapture(ctx context.Context, c *connection, chunk audioio.AudioChunk) bool {
	rms := audioio.CalculateRMS(chunk.Samples)

	e.mu.Lock()
	e.userVol = rms
	e.mu.Unlock()
	e.publish(Event{Kind: EventUserVolume, Volume: rms})

	switch err := c.sess.SendRealtimeInput(chunk.Bytes()); {
	case err == nil:
		e.mu.Lock()
		e.sent++
		e.mu.Unlock()
		e.metrics.AudioChunksSent.Add(ctx, 1)
	case errors.Is(err, session.ErrClosed):
		return false
	default:
		e.logger.Debug("microphone block not sent", "seq", chunk.Seq, "error", err)
	}
	return true
}

// dispatchLoop is the single consumer of session events.
func (e *Engine) dispatchLoop(ctx context.Context, c *connection) {
	defer c.wg.Done()

	events := c.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				e.fail(c, &StreamError{Reason: "session closed"})
				return
			}
			if !e.dispatch(ctx, c, ev) {
				return
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, c *connection, ev session.Event) bool {
	switch ev.Kind {
	case session.EventOpen:
		e.logger.Debug("session open", "session", c.sess.ID())
	case session.EventAudio:
		e.handleAudio(ctx, c, ev.Audio)
	case session.EventInterrupted:
		e.handleInterrupt(ctx, c)
	case session.EventTurnComplete:
		e.logger.Debug("model turn complete")
	case session.EventError:
		e.fail(c, &StreamError{Reason: "remote", Cause: ev.Err})
		return false
	case session.EventClosed:
		e.fail(c, &StreamError{Reason: "closed by remote"})
		return false
	}
	return true
}

// handleAudio decodes one inbound payload and schedules it directly after
// everything already scheduled, or now if the schedule has run dry.
func (e *Engine) handleAudio(ctx context.Context, c *connection, payload string) {
	samples, err := DecodeAudio(payload, c.out.SampleRate())
	if err != nil {
		e.mu.Lock()
		e.decodeErrs++
		e.mu.Unlock()
		e.metrics.RecordChunkReceived(ctx, "dropped")
		e.logger.Warn("dropping inbound audio", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != c {
		return
	}

	now := c.out.Now()
	startAt := max(e.nextStart, now)
	gen := e.gen
	if err := c.out.Schedule(samples, startAt, func() { e.bufferEnded(gen) }); err != nil {
		e.logger.Warn("scheduling inbound audio failed", "error", err)
		return
	}

	e.nextStart = startAt + float64(len(samples))/float64(c.out.SampleRate())
	e.pending++
	e.received++
	e.metrics.RecordChunkReceived(ctx, "scheduled")
	e.metrics.PlaybackQueue.Record(ctx, e.nextStart-now)

	if !e.speaking {
		e.speaking = true
		e.publish(Event{Kind: EventSpeakingStart})
	}
}

// bufferEnded runs on the output device when a scheduled buffer finishes.
// Speech ends once the device clock has caught up with the schedule.
func (e *Engine) bufferEnded(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.conn == nil {
		return
	}
	if e.pending > 0 {
		e.pending--
	}
	now := e.conn.out.Now()
	if e.speaking && now >= e.nextStart-e.cfg.SpeakingStopTolerance.Seconds() {
		e.speaking = false
		e.publish(Event{Kind: EventSpeakingStop})
	}
}

// handleInterrupt resets the schedule cursor. Buffers already scheduled
// keep playing but no longer extend it.
func (e *Engine) handleInterrupt(ctx context.Context, c *connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != c {
		return
	}

	e.nextStart = 0
	e.speaking = false
	e.interrupts++
	e.metrics.Interruptions.Add(ctx, 1)
	e.publish(Event{Kind: EventSpeakingStop})
	e.logger.Debug("playback interrupted")
}

func (e *Engine) meterLoop(ctx context.Context, c *connection) {
	defer c.wg.Done()

	ticker := time.NewTicker(e.cfg.MeterInterval)
	defer ticker.Stop()
	bins := make([]uint8, AmplitudeBins)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.out.Analyse(bins)
			vol := Amplitude(bins[:n])

			e.mu.Lock()
			active := e.conn == c
			if active {
				e.aiVol = vol
			}
			e.mu.Unlock()
			if active {
				e.publish(Event{Kind: EventAIVolume, Volume: vol})
			}
		}
	}
}

// Amplitude returns sum(bins)/len(bins)/128.
func Amplitude(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		sum += float64(b)
	}
	return sum / float64(len(bins)) / AmplitudeScale
}

// DecodeAudio decodes a base64 PCM16 payload at SourceSampleRate into
// float samples at rate.
func DecodeAudio(payload string, rate int) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not whole PCM16 samples", ErrDecode, len(raw))
	}
	samples := audioio.SamplesToFloat32(audioio.BytesToSamples(raw))
	return audioio.ResampleFloat32(samples, SourceSampleRate, rate), nil
}

// Connected reports whether a session is active.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Speaking reports whether AI audio is scheduled or playing.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

// AIVolume returns the latest output amplitude.
func (e *Engine) AIVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aiVol
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Connected:      e.conn != nil,
		Speaking:       e.speaking,
		NextStartTime:  e.nextStart,
		Pending:        e.pending,
		UserVolume:     e.userVol,
		AIVolume:       e.aiVol,
		ChunksSent:     e.sent,
		ChunksReceived: e.received,
		DecodeErrors:   e.decodeErrs,
		Interruptions:  e.interrupts,
	}
}
