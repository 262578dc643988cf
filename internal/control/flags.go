// Package control holds the operator pause and emergency-close flags polled
// by the scheduler at the start of every cycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"futures-trading-agent/internal/cache"
)

// State is the combined flag state.
type State struct {
	Paused    bool `json:"paused"`
	Emergency bool `json:"emergency"`
}

// Source is one place flags can be read from and written to.
type Source interface {
	Read(ctx context.Context) (State, error)
	SetPaused(ctx context.Context, paused bool) error
	SetEmergency(ctx context.Context, on bool) error
}

// FileFlags maps each flag to the existence of a file.
type FileFlags struct {
	PauseFile     string
	EmergencyFile string
}

// NewFileFlags creates file-backed flags. Empty paths disable that flag.
func NewFileFlags(pauseFile, emergencyFile string) *FileFlags {
	return &FileFlags{PauseFile: pauseFile, EmergencyFile: emergencyFile}
}

func (f *FileFlags) Read(_ context.Context) (State, error) {
	paused, err := exists(f.PauseFile)
	if err != nil {
		return State{}, err
	}
	emergency, err := exists(f.EmergencyFile)
	if err != nil {
		return State{}, err
	}
	return State{Paused: paused, Emergency: emergency}, nil
}

func (f *FileFlags) SetPaused(_ context.Context, paused bool) error {
	return setFile(f.PauseFile, paused)
}

func (f *FileFlags) SetEmergency(_ context.Context, on bool) error {
	return setFile(f.EmergencyFile, on)
}

func exists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat flag %s: %w", path, err)
}

func setFile(path string, on bool) error {
	if path == "" {
		return nil
	}
	if !on {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove flag %s: %w", path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		return fmt.Errorf("write flag %s: %w", path, err)
	}
	return nil
}

// MemoryFlags live in process memory. The API writes here.
type MemoryFlags struct {
	paused    atomic.Bool
	emergency atomic.Bool
}

// NewMemoryFlags creates cleared flags.
func NewMemoryFlags() *MemoryFlags { return &MemoryFlags{} }

func (m *MemoryFlags) Read(_ context.Context) (State, error) {
	return State{Paused: m.paused.Load(), Emergency: m.emergency.Load()}, nil
}

func (m *MemoryFlags) SetPaused(_ context.Context, paused bool) error {
	m.paused.Store(paused)
	return nil
}

func (m *MemoryFlags) SetEmergency(_ context.Context, on bool) error {
	m.emergency.Store(on)
	return nil
}

// RedisFlags share flags across agent processes.
type RedisFlags struct {
	redis *cache.CacheService
}

// NewRedisFlags wraps svc.
func NewRedisFlags(svc *cache.CacheService) *RedisFlags {
	return &RedisFlags{redis: svc}
}

func (r *RedisFlags) Read(ctx context.Context) (State, error) {
	paused, err := r.redis.Exists(ctx, cache.FlagKey("pause"))
	if err != nil {
		return State{}, err
	}
	emergency, err := r.redis.Exists(ctx, cache.FlagKey("emergency"))
	if err != nil {
		return State{}, err
	}
	return State{Paused: paused, Emergency: emergency}, nil
}

func (r *RedisFlags) SetPaused(ctx context.Context, paused bool) error {
	return r.set(ctx, "pause", paused)
}

func (r *RedisFlags) SetEmergency(ctx context.Context, on bool) error {
	return r.set(ctx, "emergency", on)
}

func (r *RedisFlags) set(ctx context.Context, name string, on bool) error {
	if on {
		return r.redis.Set(ctx, cache.FlagKey(name), "1", 0)
	}
	return r.redis.Delete(ctx, cache.FlagKey(name))
}

// Composite ORs flags across sources. A source that fails to read is
// skipped; the error is still returned alongside the merged state.
type Composite struct {
	sources []Source
}

// NewComposite combines sources. Nil sources are dropped.
func NewComposite(sources ...Source) *Composite {
	c := &Composite{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

func (c *Composite) Read(ctx context.Context) (State, error) {
	var out State
	var errs []error
	for _, s := range c.sources {
		st, err := s.Read(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Paused = out.Paused || st.Paused
		out.Emergency = out.Emergency || st.Emergency
	}
	return out, errors.Join(errs...)
}

// SetPaused writes to every source so that any of them reads back the same.
func (c *Composite) SetPaused(ctx context.Context, paused bool) error {
	var errs []error
	for _, s := range c.sources {
		if err := s.SetPaused(ctx, paused); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Composite) SetEmergency(ctx context.Context, on bool) error {
	var errs []error
	for _, s := range c.sources {
		if err := s.SetEmergency(ctx, on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearEmergency clears the emergency flag everywhere.
func (c *Composite) ClearEmergency(ctx context.Context) error {
	return c.SetEmergency(ctx, false)
}
