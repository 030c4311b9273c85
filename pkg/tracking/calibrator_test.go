package tracking

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		baseline float64
		want     float64
	}{
		{"above baseline", 0.6, 0.2, 0.6},
		{"below baseline clamps to zero", 0.1, 0.3, 0},
		{"equal", 0.4, 0.4, 0},
		{"no upper clamp", 1.0, 0, 1.5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Calibrate(tc.score, tc.baseline, CalibrationSensitivity)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Calibrate(%v, %v) = %v, want %v", tc.score, tc.baseline, got, tc.want)
			}
		})
	}
}

func TestCalibrator_Uncalibrated(t *testing.T) {
	c := NewCalibrator(CalibrationSensitivity)
	f := Frame{
		Blendshapes: map[string]float64{"jawOpen": 0.3},
		Rotation:    Vec3{0.1, 0.2, 0.3},
		Position:    Vec3{1, 2, 3},
	}

	if c.Rotation(f) != f.Rotation {
		t.Errorf("Expected raw rotation, got %+v", c.Rotation(f))
	}
	if c.Position(f) != (Vec3{}) {
		t.Errorf("Expected zero position until calibrated, got %+v", c.Position(f))
	}
	if got := c.Blendshapes(f)["jawOpen"]; got != 0.3 {
		t.Errorf("Expected raw blendshape 0.3, got %v", got)
	}
}

func TestCalibrator_Calibrated(t *testing.T) {
	c := NewCalibrator(CalibrationSensitivity)
	c.Capture(Frame{
		Blendshapes: map[string]float64{"browDownLeft": 0.2},
		Rotation:    Vec3{0.1, -0.1, 0},
		Position:    Vec3{1, 1, 1},
	})

	f := Frame{
		Blendshapes: map[string]float64{"browDownLeft": 0.6, "jawOpen": 0.2},
		Rotation:    Vec3{0.3, 0.1, 0.2},
		Position:    Vec3{2, 1, 0},
	}

	rot := c.Rotation(f)
	if math.Abs(rot.X-0.2) > 1e-9 || math.Abs(rot.Y-0.2) > 1e-9 || math.Abs(rot.Z-0.2) > 1e-9 {
		t.Errorf("Unexpected calibrated rotation %+v", rot)
	}
	if pos := c.Position(f); pos != (Vec3{1, 0, -1}) {
		t.Errorf("Unexpected calibrated position %+v", pos)
	}

	bs := c.Blendshapes(f)
	if math.Abs(bs["browDownLeft"]-0.6) > 1e-9 {
		t.Errorf("Expected browDownLeft 0.6, got %v", bs["browDownLeft"])
	}
	// Keys missing from the baseline calibrate against 0.
	if math.Abs(bs["jawOpen"]-0.3) > 1e-9 {
		t.Errorf("Expected jawOpen 0.3, got %v", bs["jawOpen"])
	}
}

func TestCalibrator_CaptureCopies(t *testing.T) {
	c := NewCalibrator(CalibrationSensitivity)
	src := Frame{Blendshapes: map[string]float64{"jawOpen": 0.2}}
	c.Capture(src)
	src.Blendshapes["jawOpen"] = 0.9

	base, ok := c.Baseline()
	if !ok {
		t.Fatal("Expected a baseline")
	}
	if base.Blendshapes["jawOpen"] != 0.2 {
		t.Errorf("Baseline aliased the captured frame: %v", base.Blendshapes["jawOpen"])
	}

	c.Reset()
	if c.Calibrated() {
		t.Error("Expected Reset to discard the baseline")
	}
}

func TestSmoother_Converges(t *testing.T) {
	s := NewSmoother(SmoothingFactor, NoiseFloor)
	target := Frame{Blendshapes: map[string]float64{"jawOpen": 1}, Rotation: Vec3{X: 1}}

	s.Update(target)
	if got := s.State().Blendshapes["jawOpen"]; math.Abs(got-0.7) > 1e-9 {
		t.Errorf("Expected 0.7 after one tick, got %v", got)
	}

	for i := 1; i < 10; i++ {
		s.Update(target)
	}
	st := s.State()
	if st.Blendshapes["jawOpen"] < 0.999 {
		t.Errorf("Expected >= 0.999 within 10 ticks, got %v", st.Blendshapes["jawOpen"])
	}
	if st.Rotation.X < 0.999 {
		t.Errorf("Expected rotation to converge, got %v", st.Rotation.X)
	}
}

func TestSmoother_NoiseFloorAndMissingKeys(t *testing.T) {
	s := NewSmoother(SmoothingFactor, NoiseFloor)

	s.Update(Frame{Blendshapes: map[string]float64{"jitter": 0.04, "smile": 1}})
	if got := s.State().Blendshapes["jitter"]; got != 0 {
		t.Errorf("Expected noise below the floor to snap to 0, got %v", got)
	}

	s.Update(Frame{Blendshapes: map[string]float64{}})
	if got := s.State().Blendshapes["smile"]; math.Abs(got-0.21) > 1e-9 {
		t.Errorf("Expected missing key to decay toward 0 (0.21), got %v", got)
	}

	s.Reset()
	if len(s.State().Blendshapes) != 0 {
		t.Error("Expected Reset to clear channels")
	}
}

func TestSmoother_StateIsCopy(t *testing.T) {
	s := NewSmoother(SmoothingFactor, NoiseFloor)
	s.Update(Frame{Blendshapes: map[string]float64{"smile": 1}})

	st := s.State()
	st.Blendshapes["smile"] = 42
	if s.State().Blendshapes["smile"] == 42 {
		t.Error("State must not alias internal storage")
	}
}

func TestFromTransform(t *testing.T) {
	tests := []struct {
		name string
		rot  Vec3
		pos  Vec3
	}{
		{"identity", Vec3{}, Vec3{}},
		{"yaw only", Vec3{Y: 0.4}, Vec3{X: 1}},
		{"all axes", Vec3{0.2, -0.3, 0.1}, Vec3{-2, 5, -40}},
		{"large pitch", Vec3{1.2, 0.1, -0.5}, Vec3{0, 0, 10}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rot, pos := FromTransform(Transform(tc.rot, tc.pos))
			for _, pair := range [][2]float64{
				{rot.X, tc.rot.X}, {rot.Y, tc.rot.Y}, {rot.Z, tc.rot.Z},
				{pos.X, tc.pos.X}, {pos.Y, tc.pos.Y}, {pos.Z, tc.pos.Z},
			} {
				if math.Abs(pair[0]-pair[1]) > 1e-9 {
					t.Fatalf("round trip mismatch: got rot=%+v pos=%+v", rot, pos)
				}
			}
		})
	}

	rot, _ := FromTransform(mgl64.Ident4())
	if rot != (Vec3{}) {
		t.Errorf("Expected zero rotation for identity, got %+v", rot)
	}
}
