package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenStore keeps used token IDs in process memory.
type MemoryTokenStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{used: make(map[string]time.Time)}
}

func (s *MemoryTokenStore) MarkUsed(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.used[id]; ok {
		return false, nil
	}
	s.used[id] = expiresAt
	return true, nil
}

func (s *MemoryTokenStore) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, expiresAt := range s.used {
		if expiresAt.Before(now) {
			delete(s.used, id)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of remembered IDs.
func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}
