package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// Camera reads a capture device continuously and keeps the latest frame.
type Camera struct {
	device  int
	capture *gocv.VideoCapture
	logger  *slog.Logger

	mu     sync.Mutex
	latest tracking.VideoFrame
	err    error

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ tracking.Camera = (*Camera)(nil)

// Opener returns a tracking.CameraOpener that opens OpenCV capture
// devices.
func Opener(logger *slog.Logger) tracking.CameraOpener {
	return func(device int) (tracking.Camera, error) {
		return OpenCamera(device, logger)
	}
}

// OpenCamera opens capture device and starts reading frames.
func OpenCamera(device int, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("detection: open camera %d: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("detection: camera %d did not open", device)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Camera{
		device:  device,
		capture: capture,
		logger:  logger.With("component", "camera", "device", device),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c, nil
}

func (c *Camera) readLoop(ctx context.Context) {
	defer close(c.done)

	mat := gocv.NewMat()
	defer mat.Close()

	misses := 0
	for ctx.Err() == nil {
		if ok := c.capture.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses == 30 {
				c.logger.Warn("camera is not producing frames")
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0

		if mat.Type() != gocv.MatTypeCV8UC3 {
			c.setErr(fmt.Errorf("detection: unsupported camera format %v", mat.Type()))
			continue
		}

		c.mu.Lock()
		c.latest = tracking.VideoFrame{
			Seq:    c.latest.Seq + 1,
			Time:   time.Now(),
			Width:  mat.Cols(),
			Height: mat.Rows(),
			Data:   mat.ToBytes(),
		}
		c.err = nil
		c.mu.Unlock()
	}
}

func (c *Camera) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Frame returns the latest captured frame.
func (c *Camera) Frame() (tracking.VideoFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.err
}

// Close stops reading and releases the device.
func (c *Camera) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		<-c.done
		err = c.capture.Close()
		c.logger.Debug("camera closed")
	})
	return err
}
