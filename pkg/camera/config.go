// Package camera holds the renderer's scene camera presets.
//
// Presets are changed through commands sent to a Manager, which applies
// them one at a time and notifies listeners. The renderer reads the
// active preset with every frame.
package camera

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Preset is a named scene camera placement.
type Preset struct {
	Name     string     `json:"name"`
	Position mgl64.Vec3 `json:"position"`
	Target   mgl64.Vec3 `json:"target"`

	// FOV is the vertical field of view in degrees.
	FOV float64 `json:"fov"`
}

// Limits for preset values.
const (
	MinFOV = 10.0
	MaxFOV = 120.0
)

var up = mgl64.Vec3{0, 1, 0}

// Validate checks that the preset describes a usable camera.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("camera: preset name is required")
	}
	if p.FOV < MinFOV || p.FOV > MaxFOV {
		return fmt.Errorf("camera: preset %q: fov must be in [%v, %v], got %v", p.Name, MinFOV, MaxFOV, p.FOV)
	}
	dir := p.Target.Sub(p.Position)
	if dir.Len() == 0 {
		return fmt.Errorf("camera: preset %q: position and target coincide", p.Name)
	}
	if dir.Normalize().Cross(up).Len() < 1e-6 {
		return fmt.Errorf("camera: preset %q: view direction is parallel to up", p.Name)
	}
	return nil
}

// View returns the view matrix.
func (p Preset) View() mgl64.Mat4 {
	return mgl64.LookAtV(p.Position, p.Target, up)
}

// Projection returns the perspective matrix for aspect.
func (p Preset) Projection(aspect float64) mgl64.Mat4 {
	return mgl64.Perspective(mgl64.DegToRad(p.FOV), aspect, 0.1, 20)
}

// Distance returns how far the camera is from its target.
func (p Preset) Distance() float64 {
	return p.Target.Sub(p.Position).Len()
}
