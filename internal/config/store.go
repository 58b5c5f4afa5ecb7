package config

import "sync/atomic"

// Store holds the current config snapshot. Request paths read the snapshot
// lock-free; the watcher swaps in a new one after a successful reload.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a Store seeded with the given config.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active config snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Replace swaps in a new config snapshot.
func (s *Store) Replace(cfg *Config) {
	s.current.Store(cfg)
}
