package audioio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pion/webrtc/v3/pkg/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEncoder struct{ frames int }

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if len(pcm) != opusFrameSize {
		return 0, errors.New("bad frame size")
	}
	f.frames++
	data[0] = byte(f.frames)
	return 1, nil
}

type fakeWriter struct{ samples []media.Sample }

func (f *fakeWriter) WriteSample(s media.Sample) error {
	f.samples = append(f.samples, s)
	return nil
}

func newTestWebRTCSink(t *testing.T) (*WebRTCSink, *fakeEncoder, *fakeWriter) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SampleRate = opusSampleRate
	sink, err := NewWebRTCSink(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewWebRTCSink: %v", err)
	}
	enc, w := &fakeEncoder{}, &fakeWriter{}
	sink.encoder, sink.writer = enc, w
	return sink, enc, w
}

func TestWebRTCSink_Framing(t *testing.T) {
	sink, enc, w := newTestWebRTCSink(t)
	defer sink.Close()
	_ = sink.Start(context.Background())

	// 1.5 frames: one packet now, the remainder held.
	chunk := AudioChunk{Samples: make([]int16, opusFrameSize*3/2), SampleRate: opusSampleRate, Channels: 1}
	if err := sink.Write(context.Background(), chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if enc.frames != 1 || len(w.samples) != 1 {
		t.Fatalf("Expected 1 frame, got %d encoded / %d written", enc.frames, len(w.samples))
	}
	if w.samples[0].Duration != opusFrame {
		t.Errorf("Expected %v sample duration, got %v", opusFrame, w.samples[0].Duration)
	}

	// Another half frame completes the second packet.
	chunk.Samples = make([]int16, opusFrameSize/2)
	_ = sink.Write(context.Background(), chunk)
	if enc.frames != 2 {
		t.Errorf("Expected 2 frames, got %d", enc.frames)
	}
}

func TestWebRTCSink_ResamplesToOpusRate(t *testing.T) {
	sink, enc, _ := newTestWebRTCSink(t)
	defer sink.Close()
	_ = sink.Start(context.Background())

	// 20 ms at 24 kHz becomes one 48 kHz frame.
	chunk := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	_ = sink.Write(context.Background(), chunk)
	if enc.frames != 1 {
		t.Errorf("Expected 1 frame, got %d", enc.frames)
	}
}

func TestWebRTCSink_ClearDropsPartialFrame(t *testing.T) {
	sink, enc, _ := newTestWebRTCSink(t)
	defer sink.Close()
	_ = sink.Start(context.Background())

	half := AudioChunk{Samples: make([]int16, opusFrameSize/2), SampleRate: opusSampleRate, Channels: 1}
	_ = sink.Write(context.Background(), half)
	_ = sink.Clear()
	_ = sink.Write(context.Background(), half)
	if enc.frames != 0 {
		t.Errorf("Expected no frames after Clear, got %d", enc.frames)
	}
}

func TestWebRTCSink_NotRunning(t *testing.T) {
	sink, _, _ := newTestWebRTCSink(t)
	defer sink.Close()

	err := sink.Write(context.Background(), AudioChunk{Samples: []int16{1}, SampleRate: 48000, Channels: 1})
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}
