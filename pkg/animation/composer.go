// Package animation fuses tracking, speech and idle behaviour into one
// pose and expression target per render frame.
//
// Compose is a pure function of the previous target and the frame's
// inputs. Composer wraps it with the state that has to persist between
// frames: the previous target, the blink scheduler and a frame counter.
package animation

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// Retargeting and expression constants.
const (
	HeadWeight  = 0.8
	SpineWeight = 0.4
	HipOffset   = 0.01

	BlinkSnapThreshold = 0.4
	SmileToHappy       = 1.5
	BrowToAngry        = 1.5
	JawGain            = 1.5
	JawClosedIfHappy   = 0.2
	PuckerThreshold    = 0.4
	PuckerHappyCeiling = 0.3
	PuckerGain         = 1.5

	// Lip-sync drives aa toward amplitude*LipSyncGain.
	LipSyncGain      = 4.0
	LipSyncSmoothing = 0.5

	// Per-frame decay factors while idle.
	MouthDecay      = 0.8
	ExpressionDecay = 0.9
)

// Autonomous head look: two axes at different frequencies (rad/s).
const (
	lookYawAmp    = 0.12
	lookYawFreq   = 0.45
	lookPitchAmp  = 0.05
	lookPitchFreq = 0.7
)

// Idle arm pose: arms lowered from the T-pose with a slow sway.
const (
	ArmBaseAngle = 1.2
	armSwayAmp   = 0.03
	armSwayFreq  = 1.1
)

// Inputs is everything Compose reads for one frame.
type Inputs struct {
	// Elapsed is the time since the composer started.
	Elapsed time.Duration

	Tracking tracking.Snapshot

	// Speaking and AIVolume come from the voice engine.
	Speaking bool
	AIVolume float64

	// Blink is the autonomous eyelid closure for this frame.
	Blink float64
}

// Compose computes the target for one frame from the previous target.
func Compose(prev Target, in Inputs) Target {
	t := NewTarget()
	t.Seq = prev.Seq + 1
	secs := in.Elapsed.Seconds()

	if in.Tracking.Running {
		t.Mode = ModeTracking
		composeTracking(&t, in.Tracking.Smoothed, in.Speaking)
	} else {
		t.Mode = ModeAutonomous
		composeAutonomous(&t, prev, in, secs)
	}

	switch {
	case in.Speaking:
		target := math.Min(1, in.AIVolume*LipSyncGain)
		aa := prev.Expression(Aa)
		t.Expressions[Aa] = aa + (target-aa)*LipSyncSmoothing
		t.Expressions[Ou] = 0
		t.Expressions[Oh] = 0
	case !in.Tracking.Running:
		t.Expressions[Aa] = prev.Expression(Aa) * MouthDecay
	}

	swayArms(&t, secs)
	return t
}

func composeAutonomous(t *Target, prev Target, in Inputs, secs float64) {
	yaw := math.Sin(secs*lookYawFreq) * lookYawAmp
	pitch := math.Sin(secs*lookPitchFreq) * lookPitchAmp
	t.Bones[Head] = BonePose{Rotation: tracking.Vec3{X: pitch, Y: yaw}}
	t.EyeLook = EyeLook{
		X: clamp(yaw/lookYawAmp, -1, 1),
		Y: clamp(pitch/lookPitchAmp, -1, 1),
	}

	happy, angry := prev.Expression(Happy), prev.Expression(Angry)
	if !in.Speaking {
		happy *= ExpressionDecay
		angry *= ExpressionDecay
	}
	t.Expressions[Happy] = happy
	t.Expressions[Angry] = angry
	t.Expressions[Blink] = in.Blink
}

func composeTracking(t *Target, f tracking.Frame, speaking bool) {
	r := f.Rotation
	head := tracking.Vec3{X: r.X * HeadWeight, Y: r.Y * HeadWeight, Z: r.Z * HeadWeight}
	t.Bones[Head] = BonePose{Rotation: head}
	t.Bones[Neck] = BonePose{Rotation: head}
	t.Bones[Spine] = BonePose{Rotation: tracking.Vec3{
		X: r.X * SpineWeight, Y: r.Y * SpineWeight, Z: r.Z * SpineWeight,
	}}
	t.Bones[Hips] = BonePose{Position: &tracking.Vec3{X: f.Position.X * HipOffset}}

	bs := f.Blendshape
	t.Expressions[BlinkLeft] = SnapBlink(bs(EyeBlinkLeft))
	t.Expressions[BlinkRight] = SnapBlink(bs(EyeBlinkRight))

	happy := math.Min(1, (bs(MouthSmileLeft)+bs(MouthSmileRight))/2*SmileToHappy)
	t.Expressions[Happy] = happy
	t.Expressions[Angry] = math.Min(1, (bs(BrowDownLeft)+bs(BrowDownRight))/2*BrowToAngry) * (1 - happy)
	t.Expressions[Sad] = bs(BrowInnerUp) * (1 - happy)
	t.Expressions[Surprised] = bs(BrowOuterUpLeft) + bs(BrowOuterUpRight)

	if speaking {
		return
	}
	t.Expressions[Aa] = JawFromTracking(bs(JawOpen), happy)
	t.Expressions[Ou] = PuckerFromTracking(bs(MouthPucker), happy)
}

// SnapBlink closes the eye fully above BlinkSnapThreshold and passes
// the score through otherwise.
func SnapBlink(v float64) float64 {
	if v > BlinkSnapThreshold {
		return 1
	}
	return v
}

// JawFromTracking keeps the mouth closed while smiling.
func JawFromTracking(jaw, happy float64) float64 {
	if happy > JawClosedIfHappy {
		return 0
	}
	return math.Min(1, jaw*JawGain)
}

// PuckerFromTracking maps pucker to ou when it is deliberate and the
// face is not smiling.
func PuckerFromTracking(pucker, happy float64) float64 {
	if pucker > PuckerThreshold && happy < PuckerHappyCeiling {
		return math.Min(1, pucker*PuckerGain)
	}
	return 0
}

func swayArms(t *Target, secs float64) {
	sway := math.Sin(secs*armSwayFreq) * armSwayAmp
	t.Bones[LeftUpperArm] = BonePose{Rotation: tracking.Vec3{Z: -(ArmBaseAngle + sway)}}
	t.Bones[RightUpperArm] = BonePose{Rotation: tracking.Vec3{Z: ArmBaseAngle + sway}}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Composer runs Compose once per frame, carrying the previous target and
// the blink schedule. Not safe for concurrent use; the render loop owns
// it.
type Composer struct {
	blinker *Blinker
	prev    Target
}

// Option configures a Composer.
type Option func(*Composer)

// WithRand sets the random source for blink gaps.
func WithRand(rng *rand.Rand) Option {
	return func(c *Composer) { c.blinker = NewBlinker(rng) }
}

// NewComposer creates a Composer at rest.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{prev: NewTarget()}
	for _, opt := range opts {
		opt(c)
	}
	if c.blinker == nil {
		c.blinker = NewBlinker(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	}
	return c
}

// Step composes the next frame. in.Blink is filled from the blink
// scheduler, which only runs while tracking is inactive.
func (c *Composer) Step(in Inputs) Target {
	in.Blink = c.blinker.Step(in.Elapsed, in.Tracking.Running)
	c.prev = Compose(c.prev, in)
	return c.prev
}

// Last returns the most recent target.
func (c *Composer) Last() Target {
	return c.prev
}
