package registry

import (
	"context"
	"sort"
	"sync"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// InMemoryStore keeps the initial implementation lightweight and testable.
// It intentionally favors clarity over performance.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[id.TenantID]*TenantRecord
	bySlug   map[id.Slug]id.TenantID
	byDomain map[string]id.TenantID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[id.TenantID]*TenantRecord),
		bySlug:   make(map[id.Slug]id.TenantID),
		byDomain: make(map[string]id.TenantID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, rec *TenantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySlug[rec.Slug]; exists {
		return dErrors.New(dErrors.CodeConflict, "tenant slug already in use")
	}
	if rec.Domain != "" {
		if _, exists := s.byDomain[rec.Domain]; exists {
			return dErrors.New(dErrors.CodeConflict, "tenant domain already in use")
		}
	}

	cp := *rec
	s.byID[rec.ID] = &cp
	s.bySlug[rec.Slug] = rec.ID
	if rec.Domain != "" {
		s.byDomain[rec.Domain] = rec.ID
	}
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, rec *TenantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.byID[rec.ID]
	if !exists {
		return ErrNotFound
	}
	if old.Domain != rec.Domain {
		delete(s.byDomain, old.Domain)
		if rec.Domain != "" {
			if _, taken := s.byDomain[rec.Domain]; taken {
				return dErrors.New(dErrors.CodeConflict, "tenant domain already in use")
			}
			s.byDomain[rec.Domain] = rec.ID
		}
	}

	cp := *rec
	s.byID[rec.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, tenantID id.TenantID) (*TenantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.byID[tenantID]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) GetBySlug(_ context.Context, slug id.Slug) (*TenantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, exists := s.bySlug[slug]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *s.byID[tenantID]
	return &cp, nil
}

func (s *InMemoryStore) GetByDomain(_ context.Context, domain string) (*TenantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, exists := s.byDomain[domain]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *s.byID[tenantID]
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*TenantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*TenantRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
