package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the token state in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	state *TokenState
	saves int
}

// NewMemoryStore creates an empty store, optionally seeded with a state.
func NewMemoryStore(initial ...TokenState) *MemoryStore {
	s := &MemoryStore{}
	if len(initial) > 0 {
		st := initial[0]
		s.state = &st
	}
	return s
}

// Load returns the stored state or ErrNotFound.
func (s *MemoryStore) Load(ctx context.Context) (TokenState, error) {
	if err := ctx.Err(); err != nil {
		return TokenState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return TokenState{}, ErrNotFound
	}
	return *s.state, nil
}

// Save replaces the stored state.
func (s *MemoryStore) Save(ctx context.Context, state TokenState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	s.saves++
	return nil
}

// Clear removes the stored state.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
