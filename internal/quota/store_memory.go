package quota

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a process-local counter backend. Expiry is tracked per key
// and applied lazily on access.
type InMemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	expiry   map[string]time.Time
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		counters: make(map[string]int64),
		expiry:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *InMemoryStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	fresh := s.counters[key] == 0
	s.counters[key] += delta
	if fresh && ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	}
	return s.counters[key], nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	return s.counters[key], nil
}

func (s *InMemoryStore) expireLocked(key string) {
	if exp, ok := s.expiry[key]; ok && s.now().After(exp) {
		delete(s.counters, key)
		delete(s.expiry, key)
	}
}
