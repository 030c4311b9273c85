package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should load: %v", err)
	}
	if cfg.Web.Port != DefaultPort {
		t.Errorf("Expected port %s, got %s", DefaultPort, cfg.Web.Port)
	}
	if cfg.Render.FPS != DefaultFPS {
		t.Errorf("Expected FPS %d, got %d", DefaultFPS, cfg.Render.FPS)
	}
}

func TestLoadFromReader_Overrides(t *testing.T) {
	yml := `
log:
  level: debug
web:
  port: "9090"
audio:
  output_sample_rate: 48000
  speaking_stop_tolerance: 150ms
session:
  voice: Kore
  instructions: "Be friendly."
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Web.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Web.Port)
	}
	if cfg.Audio.OutputSampleRate != 48000 {
		t.Errorf("Expected 48000, got %d", cfg.Audio.OutputSampleRate)
	}
	if cfg.Audio.SpeakingStopTolerance != 150*time.Millisecond {
		t.Errorf("Expected 150ms, got %v", cfg.Audio.SpeakingStopTolerance)
	}
	if cfg.Session.Voice != "Kore" {
		t.Errorf("Expected voice Kore, got %q", cfg.Session.Voice)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("bogus: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad fps", func(c *Config) { c.Render.FPS = 1000 }, "render.fps"},
		{"negative tolerance", func(c *Config) { c.Audio.SpeakingStopTolerance = -time.Second }, "speaking_stop_tolerance"},
		{"key and adc", func(c *Config) {
			c.Session.APIKey = "k"
			c.Session.UseADC = true
		}, "mutually exclusive"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AVATAR_PORT", "7000")
	t.Setenv("GOOGLE_API_KEY", "secret")
	t.Setenv("AVATAR_CAMERA_DEVICE", "2")

	cfg := Default()
	ApplyEnv(cfg)

	if cfg.Web.Port != "7000" {
		t.Errorf("Expected port 7000, got %s", cfg.Web.Port)
	}
	if cfg.Session.APIKey != "secret" {
		t.Errorf("Expected API key from env")
	}
	if cfg.Tracking.CameraDevice != 2 {
		t.Errorf("Expected camera device 2, got %d", cfg.Tracking.CameraDevice)
	}
}
