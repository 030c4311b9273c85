package animation

import "github.com/teslashibe/go-avatar/pkg/tracking"

// Mode is the composer branch that produced a target.
type Mode int

const (
	ModeAutonomous Mode = iota
	ModeTracking
)

func (m Mode) String() string {
	if m == ModeTracking {
		return "tracking"
	}
	return "autonomous"
}

// MarshalText encodes the mode name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// BonePose is a rotation in radians and, for hips, an optional offset.
type BonePose struct {
	Rotation tracking.Vec3  `json:"rotation"`
	Position *tracking.Vec3 `json:"position,omitempty"`
}

// EyeLook is a gaze offset in [-1, 1] per axis.
type EyeLook struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Target is the pose and expression set for one render frame.
type Target struct {
	Seq         uint64                 `json:"seq"`
	Mode        Mode                   `json:"mode"`
	Bones       map[Bone]BonePose      `json:"bones"`
	Expressions map[Expression]float64 `json:"expressions"`
	EyeLook     EyeLook                `json:"eye_look"`
}

// NewTarget returns a target with every bone and expression at rest.
func NewTarget() Target {
	t := Target{
		Bones:       make(map[Bone]BonePose, numBones),
		Expressions: make(map[Expression]float64, len(Expressions)),
	}
	for _, b := range Bones() {
		t.Bones[b] = BonePose{}
	}
	for _, e := range Expressions {
		t.Expressions[e] = 0
	}
	return t
}

// Expression returns the weight of e.
func (t Target) Expression(e Expression) float64 {
	return t.Expressions[e]
}

// Bone returns the pose of b and whether it is set.
func (t Target) Bone(b Bone) (BonePose, bool) {
	p, ok := t.Bones[b]
	return p, ok
}
