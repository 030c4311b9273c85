// Package tracking turns camera frames into smoothed, calibrated face
// state.
//
// A Source owns the camera and the landmark model and runs a loop that is
// re-armed on every display refresh but only runs inference when enough
// time has passed and the camera has produced a new frame. Each result is
// made relative to an optional neutral baseline (Calibrator) and low-pass
// filtered (Smoother). Readers take value snapshots; nothing is shared
// by reference.
package tracking

import (
	"fmt"
	"time"
)

// Fixed tracking constants.
const (
	// TrackingFPS caps how often inference runs.
	TrackingFPS = 24

	// SmoothingFactor is the weight of a new target per tick.
	SmoothingFactor = 0.7

	// NoiseFloor: blendshape targets below it are treated as 0.
	NoiseFloor = 0.05

	// CalibrationSensitivity scales baseline-relative blendshapes.
	CalibrationSensitivity = 1.5

	// DefaultRefreshRate is the display refresh the loop is re-armed on.
	DefaultRefreshRate = 60
)

// Config holds tracking parameters.
type Config struct {
	// FPS is the inference rate cap.
	FPS int

	// RefreshRate is the tick rate of the loop driver in Hz.
	RefreshRate int

	// Smoothing is the exponential smoothing factor in (0, 1].
	Smoothing float64

	// NoiseFloor snaps small blendshape targets to 0.
	NoiseFloor float64

	// Sensitivity multiplies calibrated blendshapes.
	Sensitivity float64

	// Device is the camera index used by Start when none is given.
	Device int
}

// DefaultConfig returns the standard tracking configuration.
func DefaultConfig() Config {
	return Config{
		FPS:         TrackingFPS,
		RefreshRate: DefaultRefreshRate,
		Smoothing:   SmoothingFactor,
		NoiseFloor:  NoiseFloor,
		Sensitivity: CalibrationSensitivity,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("tracking: fps must be positive, got %d", c.FPS)
	}
	if c.RefreshRate < c.FPS {
		return fmt.Errorf("tracking: refresh rate %d must be at least fps %d", c.RefreshRate, c.FPS)
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		return fmt.Errorf("tracking: smoothing must be in (0, 1], got %v", c.Smoothing)
	}
	if c.NoiseFloor < 0 {
		return fmt.Errorf("tracking: noise floor must not be negative, got %v", c.NoiseFloor)
	}
	if c.Sensitivity <= 0 {
		return fmt.Errorf("tracking: sensitivity must be positive, got %v", c.Sensitivity)
	}
	if c.Device < 0 {
		return fmt.Errorf("tracking: device must not be negative, got %d", c.Device)
	}
	return nil
}

// FrameInterval is the minimum time between two inferences.
func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// RefreshInterval is the loop driver period.
func (c Config) RefreshInterval() time.Duration {
	return time.Second / time.Duration(c.RefreshRate)
}
