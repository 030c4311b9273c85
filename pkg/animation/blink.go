package animation

import (
	"math"
	"math/rand/v2"
	"time"
)

// Blink timing.
const (
	BlinkDuration = 100 * time.Millisecond
	MinBlinkGap   = 1000 * time.Millisecond
	MaxBlinkGap   = 5000 * time.Millisecond
)

// Blinker schedules autonomous blinks. Each blink is one half-sine pulse
// of BlinkDuration; gaps are drawn uniformly from [MinBlinkGap,
// MaxBlinkGap). Not safe for concurrent use.
type Blinker struct {
	rng *rand.Rand

	scheduled bool
	next      time.Duration
	blinking  bool
	start     time.Duration
}

// NewBlinker creates a Blinker drawing gaps from rng.
func NewBlinker(rng *rand.Rand) *Blinker {
	return &Blinker{rng: rng}
}

// Step advances to now and returns the eyelid closure in [0, 1]. While
// paused no blink is scheduled and any blink in progress is dropped.
func (b *Blinker) Step(now time.Duration, paused bool) float64 {
	if paused {
		b.scheduled = false
		b.blinking = false
		return 0
	}
	if !b.scheduled && !b.blinking {
		b.schedule(now)
	}
	if !b.blinking && now >= b.next {
		b.blinking = true
		b.scheduled = false
		b.start = now
	}
	if !b.blinking {
		return 0
	}

	p := float64(now-b.start) / float64(BlinkDuration)
	if p >= 1 {
		b.blinking = false
		b.schedule(now)
		return 0
	}
	return math.Sin(math.Pi * p)
}

// Next returns when the next blink starts and whether one is scheduled.
func (b *Blinker) Next() (time.Duration, bool) {
	return b.next, b.scheduled
}

func (b *Blinker) schedule(now time.Duration) {
	gap := MinBlinkGap + time.Duration(b.rng.Int64N(int64(MaxBlinkGap-MinBlinkGap)))
	b.next = now + gap
	b.scheduled = true
}
