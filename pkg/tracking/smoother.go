package tracking

// Smoother low-pass filters frames: every channel moves toward its target
// by a fixed factor per Update. Not safe for concurrent use.
type Smoother struct {
	alpha      float64
	noiseFloor float64
	state      Frame
}

// NewSmoother creates a Smoother with all channels at 0.
func NewSmoother(alpha, noiseFloor float64) *Smoother {
	return &Smoother{
		alpha:      alpha,
		noiseFloor: noiseFloor,
		state:      Frame{Blendshapes: map[string]float64{}},
	}
}

// Update moves the state toward target. Blendshape targets below the
// noise floor count as 0, and channels missing from target decay toward
// 0.
func (s *Smoother) Update(target Frame) {
	s.state.Time = target.Time
	s.state.Seq = target.Seq
	s.state.Rotation = s.lerpVec(s.state.Rotation, target.Rotation)
	s.state.Position = s.lerpVec(s.state.Position, target.Position)

	for k, v := range target.Blendshapes {
		if v < s.noiseFloor {
			v = 0
		}
		s.state.Blendshapes[k] = s.lerp(s.state.Blendshapes[k], v)
	}
	for k, cur := range s.state.Blendshapes {
		if _, ok := target.Blendshapes[k]; !ok {
			s.state.Blendshapes[k] = s.lerp(cur, 0)
		}
	}
}

// State returns a copy of the smoothed frame.
func (s *Smoother) State() Frame {
	return s.state.Clone()
}

// Reset returns every channel to 0.
func (s *Smoother) Reset() {
	s.state = Frame{Blendshapes: map[string]float64{}}
}

func (s *Smoother) lerp(cur, target float64) float64 {
	return (1-s.alpha)*cur + s.alpha*target
}

func (s *Smoother) lerpVec(cur, target Vec3) Vec3 {
	return Vec3{
		X: s.lerp(cur.X, target.X),
		Y: s.lerp(cur.Y, target.Y),
		Z: s.lerp(cur.Z, target.Z),
	}
}
