package tracking

// Calibrator holds a neutral-face baseline and expresses frames relative
// to it. It is not safe for concurrent use; Source serialises access.
type Calibrator struct {
	sensitivity float64
	calibrated  bool
	baseline    Frame
}

// NewCalibrator creates an uncalibrated Calibrator.
func NewCalibrator(sensitivity float64) *Calibrator {
	return &Calibrator{sensitivity: sensitivity}
}

// Capture stores a deep copy of f as the baseline, replacing any earlier
// one.
func (c *Calibrator) Capture(f Frame) {
	c.baseline = f.Clone()
	c.calibrated = true
}

// Reset discards the baseline.
func (c *Calibrator) Reset() {
	c.baseline = Frame{}
	c.calibrated = false
}

// Calibrated reports whether a baseline is held.
func (c *Calibrator) Calibrated() bool {
	return c.calibrated
}

// Baseline returns a copy of the baseline and whether one is held.
func (c *Calibrator) Baseline() (Frame, bool) {
	return c.baseline.Clone(), c.calibrated
}

// Rotation returns f's rotation minus the baseline rotation, or the raw
// rotation when uncalibrated.
func (c *Calibrator) Rotation(f Frame) Vec3 {
	if !c.calibrated {
		return f.Rotation
	}
	return f.Rotation.Sub(c.baseline.Rotation)
}

// Position returns f's position minus the baseline position. It is the
// zero vector until calibrated.
func (c *Calibrator) Position(f Frame) Vec3 {
	if !c.calibrated {
		return Vec3{}
	}
	return f.Position.Sub(c.baseline.Position)
}

// Blendshapes returns max(0, current-baseline)*sensitivity for every key
// of f, or a copy of the raw scores when uncalibrated. The result may
// exceed 1.
func (c *Calibrator) Blendshapes(f Frame) map[string]float64 {
	out := make(map[string]float64, len(f.Blendshapes))
	for k, v := range f.Blendshapes {
		if c.calibrated {
			v = Calibrate(v, c.baseline.Blendshapes[k], c.sensitivity)
		}
		out[k] = v
	}
	return out
}

// Apply returns f with all three calibrated views substituted.
func (c *Calibrator) Apply(f Frame) Frame {
	out := f
	out.Rotation = c.Rotation(f)
	out.Position = c.Position(f)
	out.Blendshapes = c.Blendshapes(f)
	return out
}

// Calibrate maps one score against its baseline.
func Calibrate(score, baseline, sensitivity float64) float64 {
	return max(0, score-baseline) * sensitivity
}
