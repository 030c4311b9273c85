package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresets_Valid(t *testing.T) {
	for _, name := range PresetNames() {
		t.Run(name, func(t *testing.T) {
			p, ok := GetPreset(name)
			if !ok {
				t.Fatalf("GetPreset(%q) missing", name)
			}
			if p.Name != name {
				t.Errorf("Expected name %q, got %q", name, p.Name)
			}
			if err := p.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
	if len(PresetNames()) != 4 {
		t.Errorf("Expected 4 presets, got %v", PresetNames())
	}
}

func TestPreset_Validate(t *testing.T) {
	base, _ := GetPreset(PresetDefault)
	tests := []struct {
		name   string
		mutate func(*Preset)
	}{
		{"no name", func(p *Preset) { p.Name = "" }},
		{"fov too wide", func(p *Preset) { p.FOV = 170 }},
		{"target on camera", func(p *Preset) { p.Target = p.Position }},
		{"looking straight down", func(p *Preset) { p.Target = p.Position.Sub([3]float64{0, 1, 0}) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestPreset_Framing(t *testing.T) {
	closeup, _ := GetPreset(PresetCloseup)
	full, _ := GetPreset(PresetFullbody)
	if closeup.Distance() >= full.Distance() {
		t.Errorf("Expected closeup nearer than fullbody: %v vs %v", closeup.Distance(), full.Distance())
	}

	// The target projects to the view-space axis in front of the camera.
	p, _ := GetPreset(PresetSide)
	v := p.View().Mul4x1(p.Target.Vec4(1))
	if math.Abs(v.X()) > 1e-9 || math.Abs(v.Y()) > 1e-9 || v.Z() >= 0 {
		t.Errorf("Expected target straight ahead in view space, got %v", v)
	}
}

func TestManager_Apply(t *testing.T) {
	m := NewManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	changed := make(chan Preset, 1)
	m.OnChange(func(p Preset) { changed <- p })

	if m.Current().Name != PresetDefault {
		t.Fatalf("Expected default preset, got %q", m.Current().Name)
	}
	if err := m.Apply(ctx, PresetCloseup); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if m.Current().Name != PresetCloseup {
		t.Errorf("Expected closeup, got %q", m.Current().Name)
	}
	select {
	case p := <-changed:
		if p.Name != PresetCloseup {
			t.Errorf("Expected change to closeup, got %q", p.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected change notification")
	}

	if err := m.Apply(ctx, "fisheye"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("Expected ErrUnknownPreset, got %v", err)
	}
	if m.Current().Name != PresetCloseup {
		t.Error("Unknown preset must not change the camera")
	}
}

func TestManager_FireAndForget(t *testing.T) {
	m := NewManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Commands() <- Command{Preset: PresetSide}
	deadline := time.Now().Add(time.Second)
	for m.Current().Name != PresetSide {
		if time.Now().After(deadline) {
			t.Fatal("command was not applied")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManager_ApplyCancelled(t *testing.T) {
	m := NewManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Apply(ctx, PresetSide); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
