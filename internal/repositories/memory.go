package repositories

import (
	"context"
	"sync"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/shared"
)

// MemoryTokenStore keeps token pairs in process memory.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]auth.UserTokens
}

// NewMemoryTokenStore creates an empty [MemoryTokenStore].
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]auth.UserTokens)}
}

// Load returns a copy of the pair stored for id.
func (s *MemoryTokenStore) Load(_ context.Context, id string) (*auth.UserTokens, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens, ok := s.tokens[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return &tokens, nil
}

// Save replaces the pair stored for id.
func (s *MemoryTokenStore) Save(_ context.Context, id string, tokens *auth.UserTokens) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := requireTokens(tokens); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[id] = *tokens
	return nil
}

// Delete removes the pair stored for id.
func (s *MemoryTokenStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return shared.ErrSessionNotFound
	}
	delete(s.tokens, id)
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryTokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
