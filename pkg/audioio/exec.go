package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// Replaced in tests.
var (
	execCommand = exec.CommandContext
	lookPath    = exec.LookPath
)

// captureCommand returns the program and arguments that write raw
// little-endian PCM16 to stdout for cfg.
func captureCommand(backend Backend, cfg Config) (string, []string) {
	rate := strconv.Itoa(cfg.SampleRate)
	channels := strconv.Itoa(cfg.Channels)
	if backend == BackendSox {
		args := []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", channels, "-"}
		return "rec", args
	}
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return "arecord", append(args, "-")
}

// playbackCommand returns the program and arguments that read raw
// little-endian PCM16 from stdin for cfg.
func playbackCommand(backend Backend, cfg Config) (string, []string) {
	rate := strconv.Itoa(cfg.SampleRate)
	channels := strconv.Itoa(cfg.Channels)
	if backend == BackendSox {
		args := []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", channels, "-"}
		return "play", args
	}
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return "aplay", append(args, "-")
}

func soxEnv(backend Backend, cfg Config) []string {
	if backend == BackendSox && cfg.Device != "" {
		return []string{"AUDIODEV=" + cfg.Device}
	}
	return nil
}

// ExecSource captures audio from a recorder child process.
type ExecSource struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan AudioChunk
	done     chan struct{}

	seq         atomic.Uint64
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newExecSource(backend Backend, cfg Config, logger *slog.Logger) *ExecSource {
	return &ExecSource{
		backend:  backend,
		cfg:      cfg,
		logger:   logger.With("component", "audio_source", "backend", backend),
		streamCh: make(chan AudioChunk),
	}
}

// Start launches the recorder process.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	name, args := captureCommand(s.backend, s.cfg)
	if _, err := lookPath(name); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := execCommand(runCtx, name, args...)
	if env := soxEnv(s.backend, s.cfg); env != nil {
		cmd.Env = append(cmd.Environ(), env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, name, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.running = true
	s.streamCh = make(chan AudioChunk, 8)
	s.done = make(chan struct{})

	go s.readLoop(runCtx, stdout, s.streamCh, s.done)

	s.logger.Info("audio capture started",
		"program", name,
		"sample_rate", s.cfg.SampleRate,
		"block_size", s.cfg.BlockSize,
	)
	return nil
}

func (s *ExecSource) readLoop(ctx context.Context, r io.Reader, out chan<- AudioChunk, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, s.cfg.BlockBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Warn("audio capture read failed", "error", err)
			}
			return
		}

		chunk := AudioChunk{
			Samples:    BytesToSamples(buf),
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Seq:        s.seq.Add(1),
		}
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		case <-ctx.Done():
			return
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop terminates the recorder process and waits for the reader to exit.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, cancel, done := s.cmd, s.cancel, s.done
	s.cmd = nil
	s.mu.Unlock()

	cancel()
	<-done
	_ = cmd.Wait()

	s.logger.Info("audio capture stopped", "chunks", s.chunksRead.Load(), "overruns", s.overruns.Load())
	return nil
}

// Stream returns the block channel for the current run.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the capture configuration.
func (s *ExecSource) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *ExecSource) Name() string { return string(s.backend) }

// Close stops capture; the source cannot be restarted.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns capture statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     string(s.backend),
	}
}

var _ SourceWithStats = (*ExecSource)(nil)

// ExecSink plays audio through a player child process.
type ExecSink struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   io.WriteCloser

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

func newExecSink(backend Backend, cfg Config, logger *slog.Logger) *ExecSink {
	return &ExecSink{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With("component", "audio_sink", "backend", backend),
	}
}

// Start launches the player process.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	name, args := playbackCommand(s.backend, s.cfg)
	if _, err := lookPath(name); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := execCommand(runCtx, name, args...)
	if env := soxEnv(s.backend, s.cfg); env != nil {
		cmd.Env = append(cmd.Environ(), env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, name, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.stdin = stdin
	s.running = true

	s.logger.Info("audio playback started", "program", name, "sample_rate", s.cfg.SampleRate)
	return nil
}

// Write pipes the chunk to the player. It blocks while the device
// buffer is full.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	stdin, running := s.stdin, s.running
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := stdin.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("audioio: write %s: %w", s.backend, err)
	}
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Clear is a no-op: audio already piped to the player cannot be recalled.
func (s *ExecSink) Clear() error { return nil }

// Stop closes the player's input and terminates it.
func (s *ExecSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, cancel, stdin := s.cmd, s.cancel, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	_ = stdin.Close()
	cancel()
	_ = cmd.Wait()

	s.logger.Info("audio playback stopped", "chunks", s.chunksWritten.Load())
	return nil
}

// Config returns the playback configuration.
func (s *ExecSink) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *ExecSink) Name() string { return string(s.backend) }

// Close stops playback; the sink cannot be restarted.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns playback statistics.
func (s *ExecSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        string(s.backend),
	}
}

var _ SinkWithStats = (*ExecSink)(nil)
