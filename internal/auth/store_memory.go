package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// InMemoryUserStore keys users by (tenant, email); email uniqueness is
// per tenant by construction.
type InMemoryUserStore struct {
	mu     sync.RWMutex
	byID   map[id.PrincipalID]User
	byMail map[userKey]id.PrincipalID
}

type userKey struct {
	tenant id.TenantID
	email  string
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		byID:   make(map[id.PrincipalID]User),
		byMail: make(map[userKey]id.PrincipalID),
	}
}

func (s *InMemoryUserStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey{tenant: user.TenantID, email: normalizeEmail(user.Email)}
	if _, exists := s.byMail[key]; exists {
		return dErrors.New(dErrors.CodeConflict, "email already registered for this tenant")
	}
	s.byID[user.ID] = *user
	s.byMail[key] = user.ID
	return nil
}

func (s *InMemoryUserStore) GetByEmail(_ context.Context, tenantID id.TenantID, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byMail[userKey{tenant: tenantID, email: normalizeEmail(email)}]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[userID]
	return &u, nil
}

func (s *InMemoryUserStore) GetByID(_ context.Context, tenantID id.TenantID, userID id.PrincipalID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[userID]
	if !ok || u.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *InMemoryUserStore) CountByTenant(_ context.Context, tenantID id.TenantID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, u := range s.byID {
		if u.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// InMemoryRefreshTokenStore tracks refresh tokens by JTI.
type InMemoryRefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]RefreshTokenRecord
}

func NewInMemoryRefreshTokenStore() *InMemoryRefreshTokenStore {
	return &InMemoryRefreshTokenStore{tokens: make(map[string]RefreshTokenRecord)}
}

func (s *InMemoryRefreshTokenStore) Save(_ context.Context, rec *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[rec.JTI] = *rec
	return nil
}

func (s *InMemoryRefreshTokenStore) Get(_ context.Context, jti string) (*RefreshTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[jti]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *InMemoryRefreshTokenStore) Revoke(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[jti]
	if !ok {
		return ErrNotFound
	}
	rec.Revoked = true
	s.tokens[jti] = rec
	return nil
}

func (s *InMemoryRefreshTokenStore) RevokeByPrincipal(_ context.Context, principalID id.PrincipalID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for jti, rec := range s.tokens {
		if rec.PrincipalID == principalID && !rec.Revoked {
			rec.Revoked = true
			s.tokens[jti] = rec
			n++
		}
	}
	return n, nil
}

func (s *InMemoryRefreshTokenStore) RevokeByTenant(_ context.Context, tenantID id.TenantID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for jti, rec := range s.tokens {
		if rec.TenantID == tenantID && !rec.Revoked {
			rec.Revoked = true
			s.tokens[jti] = rec
			n++
		}
	}
	return n, nil
}

func (s *InMemoryRefreshTokenStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for jti, rec := range s.tokens {
		if rec.ExpiresAt.Before(now) {
			delete(s.tokens, jti)
			n++
		}
	}
	return n, nil
}

// InMemoryAPIKeyStore keys API key records by their stable key ID.
type InMemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[id.APIKeyID]APIKeyRecord
}

func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{keys: make(map[id.APIKeyID]APIKeyRecord)}
}

func (s *InMemoryAPIKeyStore) Create(_ context.Context, rec *APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[rec.KeyID]; exists {
		return dErrors.New(dErrors.CodeConflict, "api key id already exists")
	}
	s.keys[rec.KeyID] = *rec
	return nil
}

func (s *InMemoryAPIKeyStore) GetByKeyID(_ context.Context, keyID id.APIKeyID) (*APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *InMemoryAPIKeyStore) TouchLastUsed(_ context.Context, keyID id.APIKeyID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsedAt = &at
	s.keys[keyID] = rec
	return nil
}

func (s *InMemoryAPIKeyStore) RevokeByTenant(_ context.Context, tenantID id.TenantID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for keyID, rec := range s.keys {
		if rec.TenantID == tenantID && !rec.Revoked {
			rec.Revoked = true
			s.keys[keyID] = rec
			n++
		}
	}
	return n, nil
}

func (s *InMemoryAPIKeyStore) ListByTenant(_ context.Context, tenantID id.TenantID) ([]APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []APIKeyRecord
	for _, rec := range s.keys {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
