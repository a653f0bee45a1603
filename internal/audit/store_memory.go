package audit

import (
	"context"
	"sync"

	id "tenantgate/pkg/domain"
)

// InMemoryStore keeps audit entries per tenant. Appends assign a per-tenant
// sequence; reads return copies so callers cannot mutate history.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.TenantID][]Entry
	seq     map[id.TenantID]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[id.TenantID][]Entry),
		seq:     make(map[id.TenantID]int64),
	}
}

func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[entry.TenantID]++
	entry.Seq = s.seq[entry.TenantID]
	if entry.ID == (id.AuditID{}) {
		entry.ID = id.NewAuditID()
	}
	s.entries[entry.TenantID] = append(s.entries[entry.TenantID], *entry)
	return nil
}

func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID id.TenantID) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry{}, s.entries[tenantID]...), nil
}
