package animation

// Expression is a renderer expression channel, named as VRM presets.
type Expression string

// Expression channels.
const (
	Aa         Expression = "aa"
	Ih         Expression = "ih"
	Ou         Expression = "ou"
	Ee         Expression = "ee"
	Oh         Expression = "oh"
	Blink      Expression = "blink"
	BlinkLeft  Expression = "blinkLeft"
	BlinkRight Expression = "blinkRight"
	Happy      Expression = "happy"
	Angry      Expression = "angry"
	Sad        Expression = "sad"
	Relaxed    Expression = "relaxed"
	Surprised  Expression = "surprised"
)

// Expressions lists every channel the composer writes.
var Expressions = []Expression{
	Aa, Ih, Ou, Ee, Oh,
	Blink, BlinkLeft, BlinkRight,
	Happy, Angry, Sad, Relaxed, Surprised,
}

// Tracked blendshape names read from tracking frames.
const (
	EyeBlinkLeft     = "eyeBlinkLeft"
	EyeBlinkRight    = "eyeBlinkRight"
	MouthSmileLeft   = "mouthSmileLeft"
	MouthSmileRight  = "mouthSmileRight"
	BrowDownLeft     = "browDownLeft"
	BrowDownRight    = "browDownRight"
	BrowInnerUp      = "browInnerUp"
	BrowOuterUpLeft  = "browOuterUpLeft"
	BrowOuterUpRight = "browOuterUpRight"
	JawOpen          = "jawOpen"
	MouthPucker      = "mouthPucker"
)
