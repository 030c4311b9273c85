package avatar

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-avatar/pkg/animation"
	"github.com/teslashibe/go-avatar/pkg/audiostream"
	"github.com/teslashibe/go-avatar/pkg/camera"
	"github.com/teslashibe/go-avatar/pkg/tracking"
)

// TrackingState provides the latest tracking snapshot.
type TrackingState interface {
	Snapshot() tracking.Snapshot
}

// VoiceState provides the latest voice engine state.
type VoiceState interface {
	State() audiostream.State
}

// PresetSource provides the active scene camera preset.
type PresetSource interface {
	Current() camera.Preset
}

// FrameSink receives one composed frame per render tick.
type FrameSink interface {
	BroadcastFrame(target animation.Target, preset camera.Preset) error
}

// Renderer is the render tick driver. Each tick samples whatever tracking
// and voice state is freshest, composes a target and hands it to the
// sink. It never waits on either source.
type Renderer struct {
	fps      int
	tracking TrackingState
	voice    VoiceState
	camera   PresetSource
	out      FrameSink
	composer *animation.Composer
	logger   *slog.Logger
}

// NewRenderer creates a renderer ticking at fps.
func NewRenderer(fps int, trk TrackingState, voice VoiceState, cam PresetSource, out FrameSink, composer *animation.Composer, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if composer == nil {
		composer = animation.NewComposer()
	}
	return &Renderer{
		fps:      fps,
		tracking: trk,
		voice:    voice,
		camera:   cam,
		out:      out,
		composer: composer,
		logger:   logger.With("component", "renderer"),
	}
}

// Run ticks until ctx is done.
func (r *Renderer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(r.fps))
	defer ticker.Stop()

	started := time.Now()
	r.logger.Info("render loop started", "fps", r.fps)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.Tick(now.Sub(started))
		}
	}
}

// Tick composes and publishes one frame.
func (r *Renderer) Tick(elapsed time.Duration) animation.Target {
	voice := r.voice.State()
	target := r.composer.Step(animation.Inputs{
		Elapsed:  elapsed,
		Tracking: r.tracking.Snapshot(),
		Speaking: voice.Speaking,
		AIVolume: voice.AIVolume,
	})
	if err := r.out.BroadcastFrame(target, r.camera.Current()); err != nil {
		r.logger.Debug("frame not published", "seq", target.Seq, "error", err)
	}
	return target
}
