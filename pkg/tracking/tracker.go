package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-avatar/internal/observe"
)

// VideoFrame is one captured camera image in packed BGR24.
type VideoFrame struct {
	// Seq increases every time the camera produces a new image.
	Seq    uint64
	Time   time.Time
	Width  int
	Height int
	Data   []byte
}

// Camera provides the most recent captured frame.
type Camera interface {
	// Frame returns the latest frame. Seq is unchanged until a new image
	// arrives; Seq 0 means nothing has been captured yet.
	Frame() (VideoFrame, error)
	Close() error
}

// CameraOpener opens a capture device by index.
type CameraOpener func(device int) (Camera, error)

// Category is one named blendshape score.
type Category struct {
	Name  string
	Score float64
}

// FaceResult is one detected face.
type FaceResult struct {
	Blendshapes []Category

	// Transform is the head pose, if the model provides one.
	Transform *mgl64.Mat4
}

// Landmarker is a facial landmark model.
type Landmarker interface {
	// Load prepares the model. It is called once.
	Load(ctx context.Context) error

	// Detect runs inference on frame. ts is monotonic since tracking
	// started. A nil result means no face.
	Detect(frame VideoFrame, ts time.Duration) (*FaceResult, error)

	Close() error
}

// Ticker is the loop driver, normally a time.Ticker at the display refresh
// rate.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

// Snapshot is a consistent copy of the tracker's state.
type Snapshot struct {
	Running    bool  `json:"running"`
	Calibrated bool  `json:"calibrated"`
	Smoothed   Frame `json:"smoothed"`
	Raw        Frame `json:"raw"`
	HasFrame   bool  `json:"has_frame"`
}

// Stats counts loop activity since the tracker was created.
type Stats struct {
	Ticks       int64 `json:"ticks"`
	Frames      int64 `json:"frames"`
	NoFace      int64 `json:"no_face"`
	FrameErrors int64 `json:"frame_errors"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithTicker replaces the loop driver.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(t *Tracker) { t.newTicker = f }
}

// Tracker is the tracking source: camera, model, calibration and
// smoothing. Methods are safe for concurrent use.
type Tracker struct {
	cfg       Config
	open      CameraOpener
	model     Landmarker
	logger    *slog.Logger
	metrics   *observe.Metrics
	newTicker func(time.Duration) Ticker

	modelOnce sync.Once
	modelErr  error

	// lifecycle serialises Start, Stop and Close.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	camera    Camera
	closed    bool

	mu         sync.RWMutex
	running    bool
	latest     Frame
	hasFrame   bool
	calibrator *Calibrator
	smoother   *Smoother
	stats      Stats
}

// New creates a Tracker. Cameras are opened with open; model is loaded
// lazily on the first Start or by Preload.
func New(cfg Config, open CameraOpener, model Landmarker, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil || model == nil {
		return nil, errors.New("tracking: camera opener and model are required")
	}
	t := &Tracker{
		cfg:        cfg,
		open:       open,
		model:      model,
		logger:     slog.Default(),
		calibrator: NewCalibrator(cfg.Sensitivity),
		smoother:   NewSmoother(cfg.Smoothing, cfg.NoiseFloor),
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracking")
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t, nil
}

// Preload starts loading the model in the background.
func (t *Tracker) Preload(ctx context.Context) {
	go func() { _ = t.loadModel(ctx) }()
}

// loadModel loads the model exactly once; later calls return the first
// outcome.
func (t *Tracker) loadModel(ctx context.Context) error {
	t.modelOnce.Do(func() {
		start := time.Now()
		if err := t.model.Load(ctx); err != nil {
			t.modelErr = fmt.Errorf("%w: %w", ErrModelInit, err)
			t.logger.Error("landmark model failed to load", "error", err)
			return
		}
		t.logger.Info("landmark model loaded", "took", time.Since(start).Round(time.Millisecond))
	})
	return t.modelErr
}

// Start loads the model if needed, opens the camera and starts the loop.
func (t *Tracker) Start(ctx context.Context, device int) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.done != nil {
		return ErrAlreadyRunning
	}
	if err := t.loadModel(ctx); err != nil {
		return err
	}

	cam, err := t.open(device)
	if err != nil {
		return fmt.Errorf("%w: device %d: %w", ErrDeviceAccess, device, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.camera = cam
	t.cancel = cancel
	t.done = make(chan struct{})

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	go t.run(loopCtx, cam, t.done)

	t.logger.Info("tracking started",
		"device", device,
		"fps", t.cfg.FPS,
		"refresh_hz", t.cfg.RefreshRate,
	)
	return nil
}

// Stop ends the loop, releases the camera and discards calibration and
// smoothing state. It returns once the camera is closed.
func (t *Tracker) Stop() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	return t.stopLocked()
}

func (t *Tracker) stopLocked() error {
	if t.done == nil {
		return nil
	}
	t.cancel()
	<-t.done

	err := t.camera.Close()
	t.camera = nil
	t.cancel = nil
	t.done = nil

	t.mu.Lock()
	t.running = false
	t.hasFrame = false
	t.latest = Frame{}
	t.calibrator.Reset()
	t.smoother.Reset()
	t.mu.Unlock()

	t.logger.Info("tracking stopped")
	if err != nil {
		return fmt.Errorf("tracking: close camera: %w", err)
	}
	return nil
}

// Close stops tracking and releases the model.
func (t *Tracker) Close() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return errors.Join(t.stopLocked(), t.model.Close())
}

// Calibrate captures the current raw frame as the neutral baseline. It
// does nothing when tracking is stopped or no frame has been tracked yet,
// and reports whether a baseline was captured.
func (t *Tracker) Calibrate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || !t.hasFrame {
		return false
	}
	t.calibrator.Capture(t.latest)
	t.logger.Info("calibrated", "seq", t.latest.Seq)
	return true
}

// Running reports whether the loop is active.
func (t *Tracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Calibrated reports whether a baseline is held.
func (t *Tracker) Calibrated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calibrator.Calibrated()
}

// Latest returns the most recent raw frame.
func (t *Tracker) Latest() (Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest.Clone(), t.hasFrame
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Running:    t.running,
		Calibrated: t.calibrator.Calibrated(),
		Smoothed:   t.smoother.State(),
		Raw:        t.latest.Clone(),
		HasFrame:   t.hasFrame,
	}
}

// Stats returns loop counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// run re-arms on every refresh tick and processes a frame only when the
// frame interval has elapsed and the camera has advanced.
func (t *Tracker) run(ctx context.Context, cam Camera, done chan<- struct{}) {
	defer close(done)

	ticker := t.newTicker(t.cfg.RefreshInterval())
	defer ticker.Stop()

	var (
		started   = time.Now()
		lastTick  time.Time
		lastSeq   uint64
		errStreak int
		interval  = t.cfg.FrameInterval()
	)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			if !lastTick.IsZero() && now.Sub(lastTick) < interval {
				continue
			}
			vf, err := cam.Frame()
			if err != nil || vf.Seq == 0 || vf.Seq == lastSeq {
				continue
			}
			lastTick = now
			lastSeq = vf.Seq

			if err := t.tick(ctx, vf, now.Sub(started)); err != nil {
				errStreak++
				// One warning per second of consecutive failures.
				if errStreak%t.cfg.FPS == 1 || t.cfg.FPS == 1 {
					t.logger.Warn("tracking frame skipped", "error", err, "consecutive", errStreak)
				}
				continue
			}
			errStreak = 0
		}
	}
}

// tick runs inference on one frame and feeds the result through
// calibration and smoothing.
func (t *Tracker) tick(ctx context.Context, vf VideoFrame, ts time.Duration) error {
	res, err := t.model.Detect(vf, ts)
	if err != nil {
		t.mu.Lock()
		t.stats.Ticks++
		t.stats.FrameErrors++
		t.mu.Unlock()
		t.metrics.TrackingFrameErrors.Add(ctx, 1)
		return &FrameError{Seq: vf.Seq, Cause: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Ticks++
	if res == nil {
		t.stats.NoFace++
		return nil
	}

	f := Frame{
		Time:        vf.Time,
		Seq:         vf.Seq,
		Blendshapes: make(map[string]float64, len(res.Blendshapes)),
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	for _, c := range res.Blendshapes {
		f.Blendshapes[c.Name] = c.Score
	}
	if res.Transform != nil {
		f.Rotation, f.Position = FromTransform(*res.Transform)
	}

	t.latest = f
	t.hasFrame = true
	t.smoother.Update(t.calibrator.Apply(f))
	t.stats.Frames++
	t.metrics.TrackingFrames.Add(ctx, 1)
	return nil
}
