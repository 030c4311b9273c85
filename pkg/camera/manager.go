package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownPreset is returned for a preset name that does not exist.
var ErrUnknownPreset = errors.New("camera: unknown preset")

// Command asks the Manager to switch presets. Result, if non-nil,
// receives the outcome; it must be buffered.
type Command struct {
	Preset string
	Result chan<- error
}

// Manager owns the active preset. Changes arrive as commands and are
// applied by Run; Current may be called from anywhere.
type Manager struct {
	logger *slog.Logger
	cmds   chan Command

	mu       sync.RWMutex
	current  Preset
	onChange []func(Preset)
}

// NewManager creates a manager showing the default preset.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	p, _ := GetPreset(PresetDefault)
	return &Manager{
		logger:  logger.With("component", "camera"),
		cmds:    make(chan Command, 8),
		current: p,
	}
}

// Commands returns the command channel.
func (m *Manager) Commands() chan<- Command {
	return m.cmds
}

// OnChange registers fn to be called after each preset switch. It is
// called from Run.
func (m *Manager) OnChange(fn func(Preset)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Current returns the active preset.
func (m *Manager) Current() Preset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Run applies commands until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-m.cmds:
			err := m.apply(cmd.Preset)
			if cmd.Result != nil {
				cmd.Result <- err
			}
		}
	}
}

// Apply sends a command and waits for it to be applied.
func (m *Manager) Apply(ctx context.Context, name string) error {
	result := make(chan error, 1)
	select {
	case m.cmds <- Command{Preset: name, Result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) apply(name string) error {
	p, ok := GetPreset(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = p
	listeners := append([]func(Preset){}, m.onChange...)
	m.mu.Unlock()

	m.logger.Info("camera preset applied", "preset", name, "fov", p.FOV)
	for _, fn := range listeners {
		fn(p)
	}
	return nil
}
