// Package web is the renderer boundary: a fiber server that streams one
// frame message per render tick over a websocket, publishes status and
// accepts commands over a small HTTP API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-avatar/internal/observe"
	"github.com/teslashibe/go-avatar/pkg/animation"
	"github.com/teslashibe/go-avatar/pkg/audiostream"
	"github.com/teslashibe/go-avatar/pkg/camera"
	"github.com/teslashibe/go-avatar/pkg/hub"
	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// Tracking is the tracking source as seen by the API.
type Tracking interface {
	Start(ctx context.Context, device int) error
	Stop() error
	Calibrate() bool
	Snapshot() tracking.Snapshot
	Stats() tracking.Stats
}

// Voice is the audio engine as seen by the API.
type Voice interface {
	Connect(ctx context.Context, instructions string) error
	Disconnect() error
	State() audiostream.State
}

// Camera is the scene camera manager as seen by the API.
type Camera interface {
	Apply(ctx context.Context, name string) error
	Current() camera.Preset
}

// OfferHandler answers WebRTC offers from browser renderers.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

// Config configures the server.
type Config struct {
	Port string

	// StaticDir, if set, is served at /.
	StaticDir string

	// CameraDevice is used when a tracking start request names none.
	CameraDevice int
}

// FrameMessage is sent to renderers once per render tick.
type FrameMessage struct {
	Type   string           `json:"type"`
	Time   time.Time        `json:"time"`
	Target animation.Target `json:"target"`
	Camera camera.Preset    `json:"camera"`
}

// TrackingStatus summarises the tracking source.
type TrackingStatus struct {
	Running    bool           `json:"running"`
	Calibrated bool           `json:"calibrated"`
	HasFrame   bool           `json:"has_frame"`
	Stats      tracking.Stats `json:"stats"`
}

// Status is the body of GET /api/status and of /ws/status messages.
type Status struct {
	Type     string            `json:"type"`
	Uptime   string            `json:"uptime"`
	Tracking TrackingStatus    `json:"tracking"`
	Voice    audiostream.State `json:"voice"`
	Camera   string            `json:"camera"`
	Presets  []string          `json:"presets"`
	Clients  map[string]int    `json:"clients"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the metric instruments used by the hubs.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOfferHandler enables POST /api/webrtc/offer.
func WithOfferHandler(h OfferHandler) Option {
	return func(s *Server) { s.offers = h }
}

// Server is the renderer-facing web server
type Server struct {
	cfg     Config
	app     *fiber.App
	logger  *slog.Logger
	metrics *observe.Metrics
	started time.Time

	tracking Tracking
	voice    Voice
	camera   Camera
	offers   OfferHandler

	metricsHandler http.Handler

	frameHub  *hub.Hub
	statusHub *hub.Hub

	// lifeCtx is cancelled when Run returns; voice sessions are bound to
	// it rather than to a request.
	lifeMu  sync.Mutex
	lifeCtx context.Context
}

// NewServer creates the server and its routes.
func NewServer(cfg Config, trk Tracking, voice Voice, cam Camera, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		started:  time.Now(),
		tracking: trk,
		voice:    voice,
		camera:   cam,
		lifeCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web")

	hubOpts := []hub.Option{hub.WithLogger(s.logger)}
	if s.metrics != nil {
		hubOpts = append(hubOpts, hub.WithMetrics(s.metrics))
	}
	s.frameHub = hub.New("frames", hubOpts...)
	s.statusHub = hub.New("status", hubOpts...)

	app := fiber.New(fiber.Config{
		AppName:               "go-avatar",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/tracking/start", s.handleTrackingStart)
	api.Post("/tracking/stop", s.handleTrackingStop)
	api.Post("/calibrate", s.handleCalibrate)
	api.Post("/voice/connect", s.handleVoiceConnect)
	api.Post("/voice/disconnect", s.handleVoiceDisconnect)
	api.Post("/camera/preset/:name", s.handleCameraPreset)
	api.Post("/webrtc/offer", s.handleWebRTCOffer)

	if s.metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metricsHandler))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// Run serves on cfg.Port until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.lifeMu.Lock()
	s.lifeCtx = ctx
	s.lifeMu.Unlock()

	go s.frameHub.Run(ctx)
	go s.statusHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("web server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (s *Server) life() context.Context {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.lifeCtx
}

// BroadcastFrame sends one render frame to every renderer.
func (s *Server) BroadcastFrame(target animation.Target, preset camera.Preset) error {
	return s.frameHub.BroadcastJSON(FrameMessage{
		Type:   "frame",
		Time:   time.Now(),
		Target: target,
		Camera: preset,
	})
}

// PublishStatus broadcasts the current status to status clients.
func (s *Server) PublishStatus() error {
	return s.statusHub.BroadcastJSON(s.Status())
}

// Status builds the current status.
func (s *Server) Status() Status {
	snap := s.tracking.Snapshot()
	return Status{
		Type:   "status",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Tracking: TrackingStatus{
			Running:    snap.Running,
			Calibrated: snap.Calibrated,
			HasFrame:   snap.HasFrame,
			Stats:      s.tracking.Stats(),
		},
		Voice:   s.voice.State(),
		Camera:  s.camera.Current().Name,
		Presets: camera.PresetNames(),
		Clients: map[string]int{
			"frames": s.frameHub.ClientCount(),
			"status": s.statusHub.ClientCount(),
		},
	}
}
