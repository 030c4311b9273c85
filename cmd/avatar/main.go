// avatar drives a 3D avatar from face tracking and a live voice session,
// streaming pose and expression targets to browser renderers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/internal/log"
	"github.com/teslashibe/go-avatar/internal/observe"
	"github.com/teslashibe/go-avatar/pkg/avatar"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.Log.Level)
	logger := log.L()

	metricsHandler, shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		logger.Error("metrics provider failed", "error", err)
		os.Exit(1)
	}
	defer shutdownMetrics(context.Background())

	app, err := avatar.New(cfg,
		avatar.WithLogger(logger),
		avatar.WithMetrics(observe.DefaultMetrics()),
		avatar.WithMetricsHandler(metricsHandler),
	)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("avatar starting",
		"port", cfg.Web.Port,
		"camera", cfg.Tracking.CameraDevice,
		"auto_track", cfg.Tracking.AutoStart,
		"auto_voice", cfg.Session.AutoConnect,
	)
	if err := app.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and applies flag overrides on top of
// it and the environment.
func parseFlags() (*config.Config, error) {
	path := flag.String("config", "", "Path to YAML config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	port := flag.String("port", "", "HTTP port (overrides AVATAR_PORT)")
	cameraDevice := flag.Int("camera", -1, "Camera device index")
	model := flag.String("model", "", "Face detection model path")
	track := flag.Bool("track", false, "Start tracking on launch")
	voice := flag.Bool("voice", false, "Connect the voice session on launch")
	browserAudio := flag.Bool("browser-audio", false, "Stream the voice to renderers over WebRTC")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}

	if *debug {
		cfg.Log.Level = "debug"
	}
	if *port != "" {
		cfg.Web.Port = *port
	}
	if *cameraDevice >= 0 {
		cfg.Tracking.CameraDevice = *cameraDevice
	}
	if *model != "" {
		cfg.Tracking.ModelPath = *model
	}
	cfg.Tracking.AutoStart = cfg.Tracking.AutoStart || *track
	cfg.Session.AutoConnect = cfg.Session.AutoConnect || *voice
	cfg.Audio.BrowserAudio = cfg.Audio.BrowserAudio || *browserAudio
	return cfg, nil
}
