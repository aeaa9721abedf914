package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the configuration singleton.
type Store interface {
	Load(ctx context.Context) (Config, error)
	Save(ctx context.Context, cfg Config) error
}

// FileStore keeps the configuration in a YAML file.
type FileStore struct {
	Path string
}

func (s FileStore) Load(_ context.Context) (Config, error) {
	return LoadFile(s.Path)
}

// Save writes through a temporary file and rename so readers never observe
// a partial document.
func (s FileStore) Save(_ context.Context, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".wardgate-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// MemoryStore keeps the configuration in process.
type MemoryStore struct {
	mu  sync.Mutex
	cfg *Config
}

func (s *MemoryStore) Load(_ context.Context) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return Default(), nil
	}
	return s.cfg.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cfg.Clone()
	s.cfg = &c
	return nil
}
