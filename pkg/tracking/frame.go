package tracking

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is an x/y/z triple. Rotations are radians, positions are in
// detector-local units.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns v - o component-wise.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Frame is one tracking result.
type Frame struct {
	Time time.Time `json:"time"`

	// Seq is the camera frame sequence number the result came from.
	Seq uint64 `json:"seq"`

	// Blendshapes maps detector-specific names to scores in [0, 1].
	Blendshapes map[string]float64 `json:"blendshapes"`

	Rotation Vec3 `json:"rotation"`
	Position Vec3 `json:"position"`
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	out := f
	if f.Blendshapes != nil {
		out.Blendshapes = make(map[string]float64, len(f.Blendshapes))
		for k, v := range f.Blendshapes {
			out.Blendshapes[k] = v
		}
	}
	return out
}

// Blendshape returns the named score, or 0 if absent.
func (f Frame) Blendshape(name string) float64 {
	return f.Blendshapes[name]
}

// FromTransform splits a 4x4 head transform into XYZ-order Euler
// rotation and translation.
func FromTransform(m mgl64.Mat4) (rotation, position Vec3) {
	m13 := clamp(m.At(0, 2), -1, 1)
	rotation.Y = math.Asin(m13)
	if math.Abs(m13) < 0.9999999 {
		rotation.X = math.Atan2(-m.At(1, 2), m.At(2, 2))
		rotation.Z = math.Atan2(-m.At(0, 1), m.At(0, 0))
	} else {
		// Gimbal lock: roll folds into pitch.
		rotation.X = math.Atan2(m.At(2, 1), m.At(1, 1))
	}

	t := m.Col(3)
	position = Vec3{t.X(), t.Y(), t.Z()}
	return rotation, position
}

// Transform builds the matrix FromTransform decomposes.
func Transform(rotation, position Vec3) mgl64.Mat4 {
	r := mgl64.HomogRotate3DX(rotation.X).
		Mul4(mgl64.HomogRotate3DY(rotation.Y)).
		Mul4(mgl64.HomogRotate3DZ(rotation.Z))
	return mgl64.Translate3D(position.X, position.Y, position.Z).Mul4(r)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
