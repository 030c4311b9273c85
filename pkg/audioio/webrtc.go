package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// Opus framing used on the browser track.
const (
	opusSampleRate = 48000
	opusFrame      = 20 * time.Millisecond
	opusFrameSize  = opusSampleRate / 50
	maxOpusPacket  = 4000
)

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// WebRTCSink streams playback audio to browser renderers as an Opus
// track. Any number of peers may subscribe through HandleOffer; each
// receives the same track.
type WebRTCSink struct {
	cfg    Config
	logger *slog.Logger

	track   *webrtc.TrackLocalStaticSample
	writer  sampleWriter
	encoder frameEncoder

	mu      sync.Mutex
	running bool
	closed  bool
	pending []int16
	packet  []byte
	peers   map[string]*webrtc.PeerConnection

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	dropped        atomic.Int64
}

// NewWebRTCSink creates a sink accepting mono audio at cfg.SampleRate.
func NewWebRTCSink(cfg Config, logger *slog.Logger) (*WebRTCSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		"audio", "avatar-voice",
	)
	if err != nil {
		return nil, fmt.Errorf("audioio: create track: %w", err)
	}

	enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audioio: create opus encoder: %w", err)
	}

	return &WebRTCSink{
		cfg:     cfg,
		logger:  logger.With("component", "webrtc_sink"),
		track:   track,
		writer:  track,
		encoder: enc,
		packet:  make([]byte, maxOpusPacket),
		peers:   make(map[string]*webrtc.PeerConnection),
	}, nil
}

// HandleOffer answers a browser's SDP offer and attaches the voice track
// to a new peer connection. The answer includes all gathered candidates.
func (s *WebRTCSink) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("audioio: new peer connection: %w", err)
	}

	if _, err := pc.AddTrack(s.track); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("audioio: add track: %w", err)
	}

	id := uuid.NewString()
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer state", "peer", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.removePeer(id)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("audioio: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("audioio: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("audioio: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.peers[id] = pc
	s.mu.Unlock()

	s.logger.Info("renderer audio peer connected", "peer", id)
	return pc.LocalDescription(), nil
}

func (s *WebRTCSink) removePeer(id string) {
	s.mu.Lock()
	pc, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if ok {
		_ = pc.Close()
	}
}

// Peers returns the number of attached peer connections.
func (s *WebRTCSink) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Start begins accepting audio.
func (s *WebRTCSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.running = true
	return nil
}

// Stop halts acceptance and drops any partial frame.
func (s *WebRTCSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.pending = s.pending[:0]
	return nil
}

// Write resamples chunk to 48 kHz, cuts it into 20 ms frames and sends
// each encoded frame on the track. A remainder shorter than one frame is
// held for the next Write.
func (s *WebRTCSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.running {
		return ErrNotRunning
	}

	samples := chunk.Samples
	if chunk.Channels == 2 {
		samples = StereoToMono(samples)
	}
	s.pending = append(s.pending, Resample(samples, chunk.SampleRate, opusSampleRate)...)

	for len(s.pending) >= opusFrameSize {
		frame := s.pending[:opusFrameSize]
		n, err := s.encoder.Encode(frame, s.packet)
		if err != nil {
			return fmt.Errorf("audioio: opus encode: %w", err)
		}
		data := make([]byte, n)
		copy(data, s.packet[:n])
		if err := s.writer.WriteSample(media.Sample{Data: data, Duration: opusFrame}); err != nil {
			s.dropped.Add(1)
		}
		s.pending = s.pending[opusFrameSize:]
	}
	s.pending = append(s.pending[:0:0], s.pending...)

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Clear drops any partial frame.
func (s *WebRTCSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	return nil
}

// Config returns the configuration.
func (s *WebRTCSink) Config() Config { return s.cfg }

// Name returns "webrtc".
func (s *WebRTCSink) Name() string { return "webrtc" }

// Close detaches all peers.
func (s *WebRTCSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.running = false
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.mu.Unlock()

	for _, pc := range peers {
		_ = pc.Close()
	}
	return nil
}

// Stats returns playback statistics.
func (s *WebRTCSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.dropped.Load(),
		Running:        running,
		Backend:        "webrtc",
	}
}

var _ SinkWithStats = (*WebRTCSink)(nil)
