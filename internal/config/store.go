package config

import (
	"sync"
	"sync/atomic"

	"github.com/ductor/ductor/internal/paths"
)

// Store hands out immutable config snapshots. Observers take one snapshot
// per tick and never see a half-applied reload; Reload swaps the pointer
// after a full load+validate succeeds.
type Store struct {
	home    paths.Home
	current atomic.Pointer[Config]
	mu      sync.Mutex // serializes reloads
}

// NewStore loads the config and returns a store holding it.
// The int is the number of default keys merged into the file.
func NewStore(home paths.Home) (*Store, int, error) {
	cfg, added, err := Load(home)
	if err != nil {
		return nil, 0, err
	}
	s := &Store{home: home}
	s.current.Store(cfg)
	return s, added, nil
}

// Snapshot returns the current config. Callers must treat it as read-only.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Reload re-reads the config file and swaps the snapshot. On failure the
// previous snapshot stays live. Returns the number of default keys added.
func (s *Store) Reload() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, added, err := Load(s.home)
	if err != nil {
		return 0, err
	}
	s.current.Store(cfg)
	return added, nil
}

// Home returns the home layout the store reads from.
func (s *Store) Home() paths.Home {
	return s.home
}
