package audioio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"testing"
	"time"
)

// TestHelperProcess stands in for arecord: it writes two 4-frame blocks
// of PCM16 to stdout and exits.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	block := SamplesToBytes([]int16{1, 2, 3, 4})
	os.Stdout.Write(block)
	os.Stdout.Write(block)
	os.Exit(0)
}

func fakeRecorder(t *testing.T) {
	t.Helper()
	origCmd, origLook := execCommand, lookPath
	t.Cleanup(func() { execCommand, lookPath = origCmd, origLook })

	lookPath = func(string) (string, error) { return "/bin/true", nil }
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess", "--", name)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
}

func TestExecSource_ReadsBlocks(t *testing.T) {
	fakeRecorder(t)

	cfg := DefaultConfig()
	cfg.BlockSize = 4
	src := newExecSource(BackendALSA, cfg, testLogger())

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Close()

	var got []AudioChunk
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case chunk, ok := <-src.Stream():
			if !ok {
				done = true
				break
			}
			got = append(got, chunk)
		case <-timeout:
			t.Fatal("Timed out reading blocks")
		}
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(got))
	}
	if !slices.Equal(got[1].Samples, []int16{1, 2, 3, 4}) {
		t.Errorf("Unexpected samples %v", got[1].Samples)
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("Expected seqs 1,2 got %d,%d", got[0].Seq, got[1].Seq)
	}
}

func TestExecSource_MissingProgram(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(name string) (string, error) { return "", fmt.Errorf("%s not found", name) }

	src := newExecSource(BackendALSA, DefaultConfig(), testLogger())
	if err := src.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if src.Stats().Running {
		t.Error("Source should not be running after failed Start")
	}
}

func TestCaptureCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "plughw:1,0"

	tests := []struct {
		backend  Backend
		wantProg string
		wantArgs []string
	}{
		{BackendALSA, "arecord", []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1", "-D", "plughw:1,0", "-"}},
		{BackendSox, "rec", []string{"-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", "16000", "-c", "1", "-"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			prog, args := captureCommand(tt.backend, cfg)
			if prog != tt.wantProg {
				t.Errorf("Expected %s, got %s", tt.wantProg, prog)
			}
			if !slices.Equal(args, tt.wantArgs) {
				t.Errorf("Unexpected args %v", args)
			}
		})
	}
}

func TestPlaybackCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	prog, args := playbackCommand(BackendALSA, cfg)
	if prog != "aplay" {
		t.Errorf("Expected aplay, got %s", prog)
	}
	if !slices.Contains(args, "48000") {
		t.Errorf("Expected rate in args, got %v", args)
	}
	if env := soxEnv(BackendSox, Config{Device: "hw:2"}); len(env) != 1 || env[0] != "AUDIODEV=hw:2" {
		t.Errorf("Unexpected sox env %v", env)
	}
}
