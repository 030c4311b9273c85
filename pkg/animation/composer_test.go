package animation

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-avatar/pkg/tracking"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func trackingInputs(shapes map[string]float64) Inputs {
	return Inputs{
		Tracking: tracking.Snapshot{
			Running:  true,
			Smoothed: tracking.Frame{Blendshapes: shapes},
		},
	}
}

func TestSnapBlink(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.41, 1},
		{0.39, 0.39},
		{0.4, 0.4},
		{0, 0},
	}
	for _, tc := range tests {
		if got := SnapBlink(tc.in); got != tc.want {
			t.Errorf("SnapBlink(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestJawFromTracking(t *testing.T) {
	tests := []struct {
		name       string
		jaw, happy float64
		want       float64
	}{
		{"smile closes mouth", 0.9, 0.3, 0},
		{"scaled", 0.4, 0, 0.6},
		{"capped", 0.9, 0.1, 1},
		{"at threshold stays open", 0.2, 0.2, 0.3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := JawFromTracking(tc.jaw, tc.happy); !near(got, tc.want) {
				t.Errorf("JawFromTracking(%v, %v) = %v, want %v", tc.jaw, tc.happy, got, tc.want)
			}
		})
	}
}

func TestPuckerFromTracking(t *testing.T) {
	tests := []struct {
		name          string
		pucker, happy float64
		want          float64
	}{
		{"below threshold", 0.39, 0, 0},
		{"deliberate", 0.5, 0, 0.75},
		{"capped", 0.8, 0, 1},
		{"smiling suppresses", 0.6, 0.3, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PuckerFromTracking(tc.pucker, tc.happy); !near(got, tc.want) {
				t.Errorf("PuckerFromTracking(%v, %v) = %v, want %v", tc.pucker, tc.happy, got, tc.want)
			}
		})
	}
}

func TestCompose_TrackingExpressions(t *testing.T) {
	tests := []struct {
		name   string
		shapes map[string]float64
		want   map[Expression]float64
	}{
		{
			name: "happy suppresses angry",
			shapes: map[string]float64{
				MouthSmileLeft: 1, MouthSmileRight: 1,
				BrowDownLeft: 1, BrowDownRight: 1,
			},
			want: map[Expression]float64{Happy: 1, Angry: 0},
		},
		{
			name: "closed mouth smile",
			shapes: map[string]float64{
				MouthSmileLeft: 0.2, MouthSmileRight: 0.2,
				JawOpen: 0.9,
			},
			want: map[Expression]float64{Happy: 0.3, Aa: 0},
		},
		{
			name:   "sad scales by non-happiness",
			shapes: map[string]float64{BrowInnerUp: 0.6, MouthSmileLeft: 0.4, MouthSmileRight: 0},
			want:   map[Expression]float64{Happy: 0.3, Sad: 0.42},
		},
		{
			name:   "surprised is additive and unclamped",
			shapes: map[string]float64{BrowOuterUpLeft: 0.7, BrowOuterUpRight: 0.6},
			want:   map[Expression]float64{Surprised: 1.3},
		},
		{
			name:   "per-eye blink snaps",
			shapes: map[string]float64{EyeBlinkLeft: 0.41, EyeBlinkRight: 0.39},
			want:   map[Expression]float64{BlinkLeft: 1, BlinkRight: 0.39, Blink: 0},
		},
		{
			name:   "pucker",
			shapes: map[string]float64{MouthPucker: 0.5},
			want:   map[Expression]float64{Ou: 0.75},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compose(NewTarget(), trackingInputs(tc.shapes))
			if got.Mode != ModeTracking {
				t.Fatalf("Expected tracking mode, got %v", got.Mode)
			}
			for e, want := range tc.want {
				if !near(got.Expression(e), want) {
					t.Errorf("%s = %v, want %v", e, got.Expression(e), want)
				}
			}
		})
	}
}

func TestCompose_TrackingBones(t *testing.T) {
	in := trackingInputs(nil)
	in.Tracking.Smoothed.Rotation = tracking.Vec3{X: 0.5, Y: -0.25, Z: 0.1}
	in.Tracking.Smoothed.Position = tracking.Vec3{X: 3}

	got := Compose(NewTarget(), in)

	head, _ := got.Bone(Head)
	if !near(head.Rotation.X, 0.4) || !near(head.Rotation.Y, -0.2) || !near(head.Rotation.Z, 0.08) {
		t.Errorf("Unexpected head rotation %+v", head.Rotation)
	}
	neck, _ := got.Bone(Neck)
	if neck.Rotation != head.Rotation {
		t.Errorf("Expected neck to follow head, got %+v", neck.Rotation)
	}
	spine, _ := got.Bone(Spine)
	if !near(spine.Rotation.X, 0.2) || !near(spine.Rotation.Y, -0.1) {
		t.Errorf("Unexpected spine rotation %+v", spine.Rotation)
	}
	hips, _ := got.Bone(Hips)
	if hips.Position == nil || !near(hips.Position.X, 0.03) {
		t.Errorf("Unexpected hip offset %+v", hips.Position)
	}
}

func TestCompose_LipSyncOverridesTracking(t *testing.T) {
	in := trackingInputs(map[string]float64{JawOpen: 0.2, MouthPucker: 0.9})
	in.Speaking = true
	in.AIVolume = 0.5

	first := Compose(NewTarget(), in)
	if !near(first.Expression(Aa), 0.5) {
		t.Errorf("Expected aa halfway to 1, got %v", first.Expression(Aa))
	}
	if first.Expression(Ou) != 0 || first.Expression(Oh) != 0 {
		t.Error("Expected ou/oh forced to 0 while speaking")
	}

	second := Compose(first, in)
	if !near(second.Expression(Aa), 0.75) {
		t.Errorf("Expected aa 0.75 after two frames, got %v", second.Expression(Aa))
	}
}

func TestCompose_LipSyncLowVolume(t *testing.T) {
	prev := NewTarget()
	prev.Expressions[Aa] = 0.6
	got := Compose(prev, Inputs{Speaking: true, AIVolume: 0.1})
	// Target 0.4, halfway from 0.6.
	if !near(got.Expression(Aa), 0.5) {
		t.Errorf("Expected aa 0.5, got %v", got.Expression(Aa))
	}
}

func TestCompose_AutonomousDecay(t *testing.T) {
	prev := NewTarget()
	prev.Expressions[Aa] = 1
	prev.Expressions[Happy] = 0.5
	prev.Expressions[Angry] = 0.2

	got := Compose(prev, Inputs{Elapsed: time.Second})
	if got.Mode != ModeAutonomous {
		t.Fatalf("Expected autonomous mode, got %v", got.Mode)
	}
	if !near(got.Expression(Aa), 0.8) {
		t.Errorf("Expected aa to decay to 0.8, got %v", got.Expression(Aa))
	}
	if !near(got.Expression(Happy), 0.45) || !near(got.Expression(Angry), 0.18) {
		t.Errorf("Expected happy/angry to decay, got %v/%v", got.Expression(Happy), got.Expression(Angry))
	}

	// Residual expressions hold while the AI speaks.
	speaking := Compose(prev, Inputs{Elapsed: time.Second, Speaking: true})
	if speaking.Expression(Happy) != 0.5 {
		t.Errorf("Expected happy held while speaking, got %v", speaking.Expression(Happy))
	}
}

func TestCompose_AutonomousHeadLook(t *testing.T) {
	a := Compose(NewTarget(), Inputs{Elapsed: 1 * time.Second})
	b := Compose(NewTarget(), Inputs{Elapsed: 3 * time.Second})

	ha, _ := a.Bone(Head)
	hb, _ := b.Bone(Head)
	if ha.Rotation == hb.Rotation {
		t.Error("Expected head look to change over time")
	}
	if math.Abs(ha.Rotation.Y) > lookYawAmp || math.Abs(ha.Rotation.X) > lookPitchAmp {
		t.Errorf("Head look out of range: %+v", ha.Rotation)
	}
	if a.EyeLook.X < -1 || a.EyeLook.X > 1 {
		t.Errorf("Eye look out of range: %+v", a.EyeLook)
	}
}

func TestCompose_ArmSwayInBothModes(t *testing.T) {
	for _, in := range []Inputs{{Elapsed: time.Second}, trackingInputs(nil)} {
		got := Compose(NewTarget(), in)
		left, _ := got.Bone(LeftUpperArm)
		right, _ := got.Bone(RightUpperArm)
		if math.Abs(math.Abs(left.Rotation.Z)-ArmBaseAngle) > armSwayAmp+1e-9 {
			t.Errorf("%v: left arm %v not near base pose", got.Mode, left.Rotation.Z)
		}
		if !near(left.Rotation.Z, -right.Rotation.Z) {
			t.Errorf("%v: arms should mirror, got %v and %v", got.Mode, left.Rotation.Z, right.Rotation.Z)
		}
	}
}

func TestCompose_Seq(t *testing.T) {
	first := Compose(NewTarget(), Inputs{})
	second := Compose(first, Inputs{})
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("Expected sequential frames, got %d and %d", first.Seq, second.Seq)
	}
}

func TestBlinker(t *testing.T) {
	b := NewBlinker(rand.New(rand.NewPCG(1, 2)))

	if v := b.Step(0, false); v != 0 {
		t.Fatalf("Expected eyes open before the first blink, got %v", v)
	}
	next, ok := b.Next()
	if !ok || next < MinBlinkGap || next >= MaxBlinkGap {
		t.Fatalf("Expected first blink in [1s, 5s), got %v (scheduled %v)", next, ok)
	}

	if v := b.Step(next-time.Millisecond, false); v != 0 {
		t.Errorf("Expected no blink before schedule, got %v", v)
	}
	if v := b.Step(next, false); v != 0 {
		t.Errorf("Expected pulse to start at 0, got %v", v)
	}
	if v := b.Step(next+BlinkDuration/2, false); !near(v, 1) {
		t.Errorf("Expected full closure mid-blink, got %v", v)
	}
	if v := b.Step(next+BlinkDuration, false); v != 0 {
		t.Errorf("Expected eyes open after the pulse, got %v", v)
	}

	again, ok := b.Next()
	gap := again - (next + BlinkDuration)
	if !ok || gap < MinBlinkGap || gap >= MaxBlinkGap {
		t.Errorf("Expected next blink rescheduled 1-5s later, got gap %v", gap)
	}
}

func TestBlinker_PausedWhileTracking(t *testing.T) {
	b := NewBlinker(rand.New(rand.NewPCG(3, 4)))
	b.Step(0, false)
	next, _ := b.Next()

	if v := b.Step(next+BlinkDuration/2, true); v != 0 {
		t.Errorf("Expected no blink while paused, got %v", v)
	}
	if _, ok := b.Next(); ok {
		t.Error("Expected no blink scheduled while paused")
	}
}

func TestComposer_TrackingSuppressesAutonomousBlink(t *testing.T) {
	c := NewComposer(WithRand(rand.New(rand.NewPCG(5, 6))))
	for ms := 0; ms <= 6000; ms += 10 {
		in := trackingInputs(nil)
		in.Elapsed = time.Duration(ms) * time.Millisecond
		if got := c.Step(in); got.Expression(Blink) != 0 {
			t.Fatalf("Unexpected autonomous blink at %dms while tracking", ms)
		}
	}
	if c.Last().Seq != 601 {
		t.Errorf("Expected 601 frames, got %d", c.Last().Seq)
	}
}

func TestComposer_BlinksWhenIdle(t *testing.T) {
	c := NewComposer(WithRand(rand.New(rand.NewPCG(7, 8))))
	blinked := false
	for ms := 0; ms <= 6000; ms += 10 {
		got := c.Step(Inputs{Elapsed: time.Duration(ms) * time.Millisecond})
		if got.Expression(Blink) > 0.5 {
			blinked = true
		}
	}
	if !blinked {
		t.Error("Expected at least one blink within 6s")
	}
}

func TestBoneByName(t *testing.T) {
	for _, b := range Bones() {
		got, ok := BoneByName(b.String())
		if !ok || got != b {
			t.Errorf("BoneByName(%q) = %v, %v", b.String(), got, ok)
		}
	}
	if _, ok := BoneByName("tail"); ok {
		t.Error("Expected unknown bone lookup to fail")
	}
	if Bone(99).Valid() {
		t.Error("Expected out-of-range bone to be invalid")
	}
	if _, err := Bone(99).MarshalText(); err == nil {
		t.Error("Expected invalid bone to fail encoding")
	}
}

func TestTarget_JSON(t *testing.T) {
	data, err := json.Marshal(Compose(NewTarget(), Inputs{}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"leftUpperArm"`, `"blinkLeft"`, `"mode":"autonomous"`} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected %s in %s", want, s)
		}
	}

	var back struct {
		Bones map[Bone]BonePose `json:"bones"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := back.Bones[Head]; !ok {
		t.Error("Expected head bone after decoding")
	}
}
