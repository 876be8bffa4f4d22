package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps tokens for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: map[string]Token{}}
}

func (s *MemoryStore) Load(_ context.Context, identity string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[identity]
	if !ok {
		return Token{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) Save(_ context.Context, identity string, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[identity] = t
	return nil
}
