package config

import "sync/atomic"

// Store holds the current configuration snapshot. Readers always see a
// complete snapshot; writers replace it wholesale.
type Store struct {
	current atomic.Pointer[Configuration]
}

// NewStore creates a store holding cfg.
func NewStore(cfg *Configuration) *Store {
	s := &Store{}
	if cfg == nil {
		cfg = &Configuration{Bus: defaultBus(), Logging: defaultLogging()}
	}
	s.current.Store(cfg)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() *Configuration {
	return s.current.Load()
}

// Swap installs cfg and returns the previous snapshot.
func (s *Store) Swap(cfg *Configuration) *Configuration {
	return s.current.Swap(cfg)
}
