package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const currentVersion = 1

// envelope is the versioned on-disk format:
//
//	{"version": 1, "config": { ... }}
type envelope struct {
	Version int     `json:"version"`
	Config  *Config `json:"config"`
}

// Store reads and writes the configuration file. Configuration is
// persisted as JSON for human readability; writes are atomic via temp
// file + rename.
type Store struct {
	path string
}

// NewStore creates a Store for the given config file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path.
func (s *Store) Path() string { return s.path }

// Load reads the configuration from disk. A missing file yields the
// defaults — the service runs fine without a config file.
func (s *Store) Load() (Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if env.Version == 0 {
		return Config{}, fmt.Errorf("unversioned config file %s", s.path)
	}
	if env.Version > currentVersion {
		return Config{}, fmt.Errorf("config file version %d is newer than supported version %d", env.Version, currentVersion)
	}
	if env.Config == nil {
		return Default(), nil
	}

	cfg := *env.Config
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save atomically writes the configuration to disk.
func (s *Store) Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	env := envelope{Version: currentVersion, Config: &cfg}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}
