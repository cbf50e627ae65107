package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value      []byte
	computedAt time.Time
}

// MemoryStore keeps entries in process memory. Retention is purely
// time-based at the cache layer; the store itself never evicts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// Read returns the stored value for a key
func (s *MemoryStore) Read(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, time.Time{}, false, nil
	}
	return entry.value, entry.computedAt, true, nil
}

// Write stores a value for a key
func (s *MemoryStore) Write(ctx context.Context, key string, value []byte, computedAt time.Time) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value, computedAt: computedAt}
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
