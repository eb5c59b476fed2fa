package sysmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConfigRecordID is the persistence record the store reads and writes.
const ConfigRecordID = 1

// Store owns the runtime configuration. Readers always receive a copy, and
// the lock is never held across persistence I/O.
type Store struct {
	mu    sync.RWMutex
	cfg   Config
	dirty bool
	ready bool

	persist Persistence
	log     *slog.Logger
}

// NewStore creates a store backed by p. Call Init before use.
func NewStore(p Persistence, log *slog.Logger) *Store {
	return &Store{persist: p, log: log}
}

// Init loads the persisted configuration. A missing, unreadable or invalid
// record is replaced by the defaults and marked dirty so the next save
// overwrites it.
func (s *Store) Init(ctx context.Context) Config {
	cfg, err := s.load(ctx)
	if err != nil {
		s.log.Warn("using default configuration", "reason", err)
		cfg = DefaultConfig()
	}

	s.mu.Lock()
	s.cfg = cfg
	s.dirty = err != nil
	s.ready = true
	s.mu.Unlock()
	return cfg.Clone()
}

func (s *Store) load(ctx context.Context) (Config, error) {
	if s.persist == nil {
		return Config{}, fmt.Errorf("%w: no persistence", ErrNotInitialized)
	}
	blob, err := s.persist.LoadConfig(ctx, ConfigRecordID)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := UnmarshalConfig(blob)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("stored config rejected: %w", err)
	}
	return cfg, nil
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Update validates cfg and replaces the whole configuration with it. An
// invalid configuration leaves the current one untouched.
func (s *Store) Update(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	cfg = cfg.Clone()
	cfg.Version = ConfigVersion

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	s.cfg = cfg
	s.dirty = true
	return nil
}

// Modify applies fn to a copy of the configuration and stores the result if
// it validates. Concurrent Modify calls are serialised.
func (s *Store) Modify(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	cfg := s.cfg.Clone()
	if err := fn(&cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	cfg.Version = ConfigVersion
	s.cfg = cfg
	s.dirty = true
	return nil
}

// Dirty reports whether the configuration changed since the last save.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// SaveIfDirty persists the configuration when it changed. The dirty flag is
// cleared only after a successful write, and only if no update raced the
// write.
func (s *Store) SaveIfDirty(ctx context.Context) error {
	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	cfg := s.cfg.Clone()
	s.mu.RUnlock()

	if s.persist == nil {
		return fmt.Errorf("%w: no persistence", ErrNotInitialized)
	}
	blob, err := MarshalConfig(cfg)
	if err != nil {
		return fmt.Errorf("%w: encode config: %v", ErrGeneric, err)
	}
	if err := s.persist.SaveConfig(ctx, ConfigRecordID, blob); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.mu.Lock()
	if current, _ := MarshalConfig(s.cfg); string(current) == string(blob) {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}
