package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// ErrNotLoaded is returned by Detect before Load.
var ErrNotLoaded = errors.New("detection: model not loaded")

// YuNet is a tracking.Landmarker backed by OpenCV's FaceDetectorYN.
type YuNet struct {
	config   Config
	mu       sync.Mutex // Protects inference
	detector gocv.FaceDetectorYN
	loaded   bool
}

var _ tracking.Landmarker = (*YuNet)(nil)

// NewYuNet creates an unloaded YuNet landmarker.
func NewYuNet(cfg Config) (*YuNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &YuNet{config: cfg}, nil
}

// Load reads the ONNX model.
func (y *YuNet) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(y.config.ModelPath); err != nil {
		return fmt.Errorf("detection: model file %s: %w", y.config.ModelPath, err)
	}

	y.mu.Lock()
	defer y.mu.Unlock()
	if y.loaded {
		return nil
	}

	// Input size is updated per frame.
	y.detector = gocv.NewFaceDetectorYNWithParams(
		y.config.ModelPath,
		"",
		image.Pt(y.config.InputWidth, y.config.InputHeight),
		float32(y.config.ConfidenceThresh),
		float32(y.config.NMSThresh),
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	y.loaded = true
	return nil
}

// Detect finds faces in frame and returns the pose of the best one, or
// nil when there is none.
func (y *YuNet) Detect(frame tracking.VideoFrame, ts time.Duration) (*tracking.FaceResult, error) {
	dets, err := y.detect(frame)
	if err != nil {
		return nil, err
	}
	best := SelectBest(dets)
	if best == nil {
		return nil, nil
	}

	rot, pos, shapes := EstimatePose(*best, float64(frame.Width)/float64(frame.Height))
	m := tracking.Transform(rot, pos)
	return &tracking.FaceResult{Blendshapes: shapes, Transform: &m}, nil
}

func (y *YuNet) detect(frame tracking.VideoFrame) ([]Detection, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) != frame.Width*frame.Height*3 {
		return nil, fmt.Errorf("detection: frame %d: bad BGR buffer %dx%d (%d bytes)",
			frame.Seq, frame.Width, frame.Height, len(frame.Data))
	}

	y.mu.Lock()
	defer y.mu.Unlock()
	if !y.loaded {
		return nil, ErrNotLoaded
	}

	img, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("detection: wrap frame: %w", err)
	}
	defer img.Close()

	imgW := float64(img.Cols())
	imgH := float64(img.Rows())

	y.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()

	y.detector.Detect(img, &faces)

	var detections []Detection
	for r := 0; r < faces.Rows(); r++ {
		// YuNet output format (15 columns):
		// 0-3: x, y, w, h (bounding box in pixels)
		// 4-13: 5 facial landmarks (x,y pairs)
		// 14: face score
		det := Detection{
			X:          float64(faces.GetFloatAt(r, 0)) / imgW,
			Y:          float64(faces.GetFloatAt(r, 1)) / imgH,
			W:          float64(faces.GetFloatAt(r, 2)) / imgW,
			H:          float64(faces.GetFloatAt(r, 3)) / imgH,
			Confidence: float64(faces.GetFloatAt(r, 14)),
		}
		for i := range det.Landmarks {
			det.Landmarks[i] = Point{
				X: float64(faces.GetFloatAt(r, 4+2*i)) / imgW,
				Y: float64(faces.GetFloatAt(r, 5+2*i)) / imgH,
			}
		}
		detections = append(detections, det)
	}
	return detections, nil
}

// Close releases the detector resources
func (y *YuNet) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.loaded {
		y.detector.Close()
		y.loaded = false
	}
	return nil
}
