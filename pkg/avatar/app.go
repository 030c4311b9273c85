// Package avatar wires the tracking source, the voice engine, the
// animation composer and the renderer boundary into one application.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/internal/observe"
	"github.com/teslashibe/go-avatar/pkg/animation"
	"github.com/teslashibe/go-avatar/pkg/audioio"
	"github.com/teslashibe/go-avatar/pkg/audiostream"
	"github.com/teslashibe/go-avatar/pkg/camera"
	"github.com/teslashibe/go-avatar/pkg/session"
	"github.com/teslashibe/go-avatar/pkg/tracking"
	"github.com/teslashibe/go-avatar/pkg/tracking/detection"
	"github.com/teslashibe/go-avatar/pkg/web"
)

// StatusInterval is how often status is pushed when nothing changes.
const StatusInterval = time.Second

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// App is the running avatar.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler

	tracker  *tracking.Tracker
	engine   *audiostream.Engine
	browser  *audioio.WebRTCSink
	cameras  *camera.Manager
	server   *web.Server
	renderer *Renderer
}

// New builds every component from cfg. Nothing is started.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var err error
	if a.tracker, err = a.newTracker(); err != nil {
		return nil, err
	}
	if a.engine, err = a.newEngine(); err != nil {
		a.tracker.Close()
		return nil, err
	}
	a.cameras = camera.NewManager(a.logger)

	webOpts := []web.Option{web.WithLogger(a.logger), web.WithMetrics(a.metrics)}
	if a.metricsHandler != nil {
		webOpts = append(webOpts, web.WithMetricsHandler(a.metricsHandler))
	}
	if a.browser != nil {
		webOpts = append(webOpts, web.WithOfferHandler(a.browser))
	}
	a.server = web.NewServer(web.Config{
		Port:         cfg.Web.Port,
		StaticDir:    cfg.Web.StaticDir,
		CameraDevice: cfg.Tracking.CameraDevice,
	}, a.tracker, a.engine, a.cameras, webOpts...)

	fps := cfg.Render.FPS
	if fps <= 0 {
		fps = config.DefaultFPS
	}
	a.renderer = NewRenderer(fps, a.tracker, a.engine, a.cameras, a.server, animation.NewComposer(), a.logger)
	return a, nil
}

func (a *App) newTracker() (*tracking.Tracker, error) {
	dcfg := detection.DefaultConfig()
	if a.cfg.Tracking.ModelPath != "" {
		dcfg.ModelPath = a.cfg.Tracking.ModelPath
	}
	model, err := detection.NewYuNet(dcfg)
	if err != nil {
		return nil, fmt.Errorf("avatar: landmark model: %w", err)
	}

	tcfg := tracking.DefaultConfig()
	tcfg.Device = a.cfg.Tracking.CameraDevice
	return tracking.New(tcfg, detection.Opener(a.logger), model,
		tracking.WithLogger(a.logger),
		tracking.WithMetrics(a.metrics),
	)
}

func (a *App) newEngine() (*audiostream.Engine, error) {
	acfg := audiostream.DefaultConfig()
	if a.cfg.Audio.Backend != "" {
		acfg.Backend = audioio.Backend(a.cfg.Audio.Backend)
	}
	acfg.CaptureDevice = a.cfg.Audio.CaptureDevice
	acfg.PlaybackDevice = a.cfg.Audio.PlaybackDevice
	if a.cfg.Audio.OutputSampleRate > 0 {
		acfg.OutputSampleRate = a.cfg.Audio.OutputSampleRate
	}
	if a.cfg.Audio.SpeakingStopTolerance > 0 {
		acfg.SpeakingStopTolerance = a.cfg.Audio.SpeakingStopTolerance
	}
	if a.cfg.Audio.MeterInterval > 0 {
		acfg.MeterInterval = a.cfg.Audio.MeterInterval
	}
	acfg.Instructions = a.cfg.Session.Instructions

	opts := []audiostream.Option{
		audiostream.WithLogger(a.logger),
		audiostream.WithMetrics(a.metrics),
	}
	if a.cfg.Audio.BrowserAudio {
		sink, err := audioio.NewWebRTCSink(audioio.Config{
			SampleRate: acfg.OutputSampleRate,
			Channels:   1,
			BlockSize:  acfg.OutputSampleRate / 100,
		}, a.logger)
		if err != nil {
			a.logger.Warn("browser audio disabled", "error", err)
		} else {
			a.browser = sink
			opts = append(opts, audiostream.WithExtraSinks(audioio.Shared(sink)))
		}
	}

	return audiostream.New(acfg, a.newDialer(), opts...)
}

// newDialer returns the Gemini dialer, or one that reports why voice is
// unavailable so tracking can still run without credentials.
func (a *App) newDialer() session.Dialer {
	scfg := session.DefaultConfig()
	scfg.APIKey = a.cfg.Session.APIKey
	scfg.UseADC = a.cfg.Session.UseADC
	if a.cfg.Session.Model != "" {
		scfg.Model = a.cfg.Session.Model
	}
	if a.cfg.Session.Voice != "" {
		scfg.Voice = a.cfg.Session.Voice
	}
	if a.cfg.Session.BaseURL != "" {
		scfg.BaseURL = a.cfg.Session.BaseURL
	}

	g, err := session.NewGemini(scfg, session.WithLogger(a.logger))
	if err != nil {
		a.logger.Warn("voice session unavailable", "error", err)
		return unavailableDialer{err}
	}
	return g
}

type unavailableDialer struct{ err error }

func (d unavailableDialer) Connect(context.Context, string) (session.Session, error) {
	return nil, d.err
}

// Server returns the web server.
func (a *App) Server() *web.Server { return a.server }

// Run starts every component and blocks until ctx is done or one of them
// fails. All devices are released before it returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error { return ignoreCanceled(a.cameras.Run(gctx)) })
	g.Go(func() error { return a.renderer.Run(gctx) })
	g.Go(func() error { return a.statusLoop(gctx) })

	a.tracker.Preload(gctx)
	if a.cfg.Tracking.AutoStart {
		if err := a.tracker.Start(gctx, a.cfg.Tracking.CameraDevice); err != nil {
			a.logger.Error("tracking auto-start failed", "error", err)
		}
	}
	if a.cfg.Session.AutoConnect {
		if err := a.engine.Connect(gctx, ""); err != nil {
			a.logger.Error("voice auto-connect failed", "error", err)
		}
	}

	err := g.Wait()
	return errors.Join(err, a.shutdown())
}

func (a *App) shutdown() error {
	errs := []error{a.engine.Disconnect(), a.tracker.Close()}
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	a.logger.Info("avatar stopped")
	return errors.Join(errs...)
}

// statusLoop pushes status to renderers on every voice state change and
// periodically otherwise.
func (a *App) statusLoop(ctx context.Context) error {
	events, unsubscribe := a.engine.Subscribe(0)
	defer unsubscribe()

	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case audiostream.EventUserVolume, audiostream.EventAIVolume:
				continue
			case audiostream.EventError:
				a.logger.Warn("voice stream failed", "error", ev.Err)
			}
			a.server.PublishStatus()
		case <-ticker.C:
			a.server.PublishStatus()
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
