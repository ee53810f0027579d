package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryKeyStore is an in-memory APIKeyStore. Keys do not survive a
// restart; long-lived automation should use JWT tokens instead.
type MemoryKeyStore struct {
	mu     sync.RWMutex
	byHash map[string]*APIKey
}

// NewMemoryKeyStore creates an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{byHash: make(map[string]*APIKey)}
}

// GetByHash retrieves an API key by its hash.
func (s *MemoryKeyStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byHash[hash]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	if !key.ExpiresAt.IsZero() && time.Now().After(key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}
	copied := *key
	return &copied, nil
}

// Create stores a new API key.
func (s *MemoryKeyStore) Create(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *key
	s.byHash[key.KeyHash] = &copied
	return nil
}

// Delete removes an API key by ID.
func (s *MemoryKeyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, key := range s.byHash {
		if key.ID == id {
			delete(s.byHash, hash)
			return nil
		}
	}
	return ErrInvalidAPIKey
}

// ListByUser retrieves all API keys for a user.
func (s *MemoryKeyStore) ListByUser(ctx context.Context, userID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*APIKey
	for _, key := range s.byHash {
		if key.UserID == userID {
			copied := *key
			keys = append(keys, &copied)
		}
	}
	return keys, nil
}
