// Package config provides configuration loading for go-avatar commands.
//
// Configuration comes from an optional YAML file and is then overridden by
// environment variables. Every section maps onto the Config of the package
// that consumes it; zero values mean "use that package's default".
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values used when neither file nor environment sets a field.
const (
	DefaultPort     = "8080"
	DefaultLogLevel = "info"
	DefaultFPS      = 60
)

// Config is the top-level file schema.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Tracking TrackingConfig `yaml:"tracking"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Render   RenderConfig   `yaml:"render"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// WebConfig controls the renderer-facing HTTP/websocket server.
type WebConfig struct {
	Port      string `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// TrackingConfig selects the capture camera and landmark model.
type TrackingConfig struct {
	CameraDevice int    `yaml:"camera_device"`
	ModelPath    string `yaml:"model_path"`
	AutoStart    bool   `yaml:"auto_start"`
}

// AudioConfig selects audio backends and playback tunables.
type AudioConfig struct {
	Backend               string        `yaml:"backend"`
	CaptureDevice         string        `yaml:"capture_device"`
	PlaybackDevice        string        `yaml:"playback_device"`
	OutputSampleRate      int           `yaml:"output_sample_rate"`
	SpeakingStopTolerance time.Duration `yaml:"speaking_stop_tolerance"`
	MeterInterval         time.Duration `yaml:"meter_interval"`

	// BrowserAudio also streams the voice to renderers over WebRTC.
	BrowserAudio bool `yaml:"browser_audio"`
}

// SessionConfig configures the remote voice session.
type SessionConfig struct {
	APIKey       string `yaml:"api_key"`
	UseADC       bool   `yaml:"use_adc"`
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	BaseURL      string `yaml:"base_url"`
	Instructions string `yaml:"instructions"`
	AutoConnect  bool   `yaml:"auto_connect"`
}

// RenderConfig controls the render tick.
type RenderConfig struct {
	FPS int `yaml:"fps"`
}

// Default returns a Config with defaults filled in.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: DefaultLogLevel},
		Web:    WebConfig{Port: DefaultPort},
		Render: RenderConfig{FPS: DefaultFPS},
	}
}

// Load reads the YAML configuration file at path, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates it. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("AVATAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AVATAR_PORT"); v != "" {
		cfg.Web.Port = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Session.APIKey = v
	}
	if v := os.Getenv("AVATAR_CAMERA_DEVICE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracking.CameraDevice = n
		}
	}
	if v := os.Getenv("AVATAR_MODEL_PATH"); v != "" {
		cfg.Tracking.ModelPath = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Render.FPS < 0 || cfg.Render.FPS > 240 {
		errs = append(errs, fmt.Errorf("render.fps must be in [0, 240], got %d", cfg.Render.FPS))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate must not be negative, got %d", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.SpeakingStopTolerance < 0 {
		errs = append(errs, fmt.Errorf("audio.speaking_stop_tolerance must not be negative, got %v", cfg.Audio.SpeakingStopTolerance))
	}
	if cfg.Tracking.CameraDevice < 0 {
		errs = append(errs, fmt.Errorf("tracking.camera_device must not be negative, got %d", cfg.Tracking.CameraDevice))
	}
	if cfg.Session.APIKey != "" && cfg.Session.UseADC {
		errs = append(errs, errors.New("session.api_key and session.use_adc are mutually exclusive"))
	}

	return errors.Join(errs...)
}
