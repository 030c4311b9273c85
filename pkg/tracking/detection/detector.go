// Package detection provides the camera and face landmark backends for
// tracking, built on OpenCV.
package detection

import (
	"errors"
	"fmt"
	"math"

	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// Point is an image position normalized to [0, 1].
type Point struct {
	X, Y float64
}

// Landmark indices in YuNet output order.
const (
	RightEye = iota
	LeftEye
	NoseTip
	RightMouth
	LeftMouth
	numLandmarks
)

// Detection represents a detected face
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
	Landmarks  [numLandmarks]Point
}

// Center returns the center point of the detection
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Config holds detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence (default 0.5)
	NMSThresh        float64 // Non-maximum suppression threshold
	InputWidth       int     // Model input width
	InputHeight      int     // Model input height
}

// DefaultConfig returns production defaults for YuNet
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("detection: model path is required")
	}
	if c.ConfidenceThresh <= 0 || c.ConfidenceThresh > 1 {
		return fmt.Errorf("detection: confidence threshold must be in (0, 1], got %v", c.ConfidenceThresh)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("detection: input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	return nil
}

// SelectBest picks the best face from multiple detections
// Priority: confidence * 0.7 + area * 0.3
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}

	if len(dets) == 1 {
		return &dets[0]
	}

	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	bestScore := -1.0
	var best *Detection

	for i := range dets {
		score := dets[i].Confidence*0.7 + (dets[i].Area()/maxArea)*0.3
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}

	return best
}

// Pose estimation constants for five-point landmarks.
const (
	// neutralNoseRatio is where the nose tip sits between the eye line
	// (0) and the mouth line (1) when looking straight ahead.
	neutralNoseRatio = 0.5
	pitchGain        = 2.0

	// referenceFaceWidth is the normalized face width at unit distance.
	referenceFaceWidth = 0.25

	// Mouth width relative to eye distance: neutral and full smile.
	neutralMouthRatio = 0.85
	fullSmileRatio    = 1.25
)

// Blendshape names produced from five-point landmarks.
const (
	MouthSmileLeft  = "mouthSmileLeft"
	MouthSmileRight = "mouthSmileRight"
)

// EstimatePose derives a coarse head pose and the blendshapes five
// landmarks can support. aspect is image width over height. Rotation is
// in radians; position is the face center in [-1, 1] with Z a distance
// proxy that is -1 at the reference face size.
func EstimatePose(d Detection, aspect float64) (rotation, position tracking.Vec3, blendshapes []tracking.Category) {
	re, le := d.Landmarks[RightEye], d.Landmarks[LeftEye]
	nose := d.Landmarks[NoseTip]
	rm, lm := d.Landmarks[RightMouth], d.Landmarks[LeftMouth]

	// Work in a space with square pixels.
	sq := func(p Point) Point { return Point{p.X * aspect, p.Y} }
	re, le, nose, rm, lm = sq(re), sq(le), sq(nose), sq(rm), sq(lm)

	eyeMid := Point{(re.X + le.X) / 2, (re.Y + le.Y) / 2}
	mouthMid := Point{(rm.X + lm.X) / 2, (rm.Y + lm.Y) / 2}
	eyeDist := math.Hypot(le.X-re.X, le.Y-re.Y)
	if eyeDist == 0 {
		return rotation, position, nil
	}

	// Image y grows downward; rotations follow a right-handed head frame.
	rotation.Z = -math.Atan2(le.Y-re.Y, le.X-re.X)
	rotation.Y = -math.Atan2(nose.X-eyeMid.X, eyeDist)
	if span := mouthMid.Y - eyeMid.Y; span > 0 {
		ratio := (nose.Y - eyeMid.Y) / span
		rotation.X = (ratio - neutralNoseRatio) * pitchGain
	}

	cx, cy := d.Center()
	position.X = cx*2 - 1
	position.Y = 1 - cy*2
	if d.W > 0 {
		position.Z = -referenceFaceWidth / d.W
	}

	mouthRatio := math.Hypot(lm.X-rm.X, lm.Y-rm.Y) / eyeDist
	smile := (mouthRatio - neutralMouthRatio) / (fullSmileRatio - neutralMouthRatio)
	smile = math.Max(0, math.Min(1, smile))
	blendshapes = []tracking.Category{
		{Name: MouthSmileLeft, Score: smile},
		{Name: MouthSmileRight, Score: smile},
	}
	return rotation, position, blendshapes
}
