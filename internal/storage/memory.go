package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. A positive quota caps the total
// size of stored values in bytes.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	quota  int
	used   int
}

func NewMemoryStore(quotaBytes int) *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		quota:  quotaBytes,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used - len(s.values[key]) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	s.values[key] = value
	s.used = used
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= len(s.values[key])
	delete(s.values, key)
	return nil
}
