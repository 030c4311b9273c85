package playback

import "math"

// analyser computes byte frequency data over the most recent output
// window: Blackman window, DFT magnitude, exponential smoothing across
// calls, then dB mapped linearly onto 0..255.
type analyser struct {
	size     int
	window   []float64
	smoothed []float64
	ring     []float32
	pos      int

	minDB, maxDB float64
	smoothing    float64
}

func newAnalyser(cfg Config) *analyser {
	a := &analyser{
		size:      cfg.FFTSize,
		window:    make([]float64, cfg.FFTSize),
		smoothed:  make([]float64, cfg.FFTSize/2),
		ring:      make([]float32, cfg.FFTSize),
		minDB:     cfg.MinDecibels,
		maxDB:     cfg.MaxDecibels,
		smoothing: cfg.Smoothing,
	}
	n := float64(cfg.FFTSize)
	for i := range a.window {
		x := float64(i) / n
		a.window[i] = 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
	}
	return a
}

// push appends rendered samples to the ring.
func (a *analyser) push(samples []float32) {
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// bytes fills dst with up to size/2 bins.
func (a *analyser) bytes(dst []uint8) int {
	n := a.size
	bins := n / 2
	if len(dst) < bins {
		bins = len(dst)
	}

	frame := make([]float64, n)
	for i := 0; i < n; i++ {
		frame[i] = float64(a.ring[(a.pos+i)%n]) * a.window[i]
	}

	span := a.maxDB - a.minDB
	for k := 0; k < n/2; k++ {
		var re, im float64
		for i, v := range frame {
			phi := -2 * math.Pi * float64(k*i) / float64(n)
			re += v * math.Cos(phi)
			im += v * math.Sin(phi)
		}
		mag := math.Hypot(re, im) / float64(n)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		if k >= bins {
			continue
		}
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := (db - a.minDB) / span * 255
		switch {
		case v < 0 || math.IsNaN(v):
			v = 0
		case v > 255:
			v = 255
		}
		dst[k] = uint8(v)
	}
	return bins
}
