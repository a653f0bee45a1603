package auth

import (
	"context"
	"errors"
	"time"

	id "tenantgate/pkg/domain"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// UserStore persists tenant-scoped user accounts. Every lookup is keyed by
// tenant so a query can never cross the isolation boundary.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, tenantID id.TenantID, email string) (*User, error)
	GetByID(ctx context.Context, tenantID id.TenantID, userID id.PrincipalID) (*User, error)
	CountByTenant(ctx context.Context, tenantID id.TenantID) (int64, error)
}

// RefreshTokenStore tracks issued refresh tokens by JTI for rotation and
// revocation.
type RefreshTokenStore interface {
	Save(ctx context.Context, rec *RefreshTokenRecord) error
	Get(ctx context.Context, jti string) (*RefreshTokenRecord, error)
	// Revoke marks a single token unusable (rotation consumes the old one).
	Revoke(ctx context.Context, jti string) error
	// RevokeByPrincipal invalidates all of a principal's outstanding tokens.
	RevokeByPrincipal(ctx context.Context, principalID id.PrincipalID) (int, error)
	// RevokeByTenant invalidates every outstanding token for a tenant.
	// Invoked on suspension so suspended tenants cannot mint new access tokens.
	RevokeByTenant(ctx context.Context, tenantID id.TenantID) (int, error)
	// DeleteExpired removes tokens past their expiry. Returns the count removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// APIKeyStore persists tenant API keys. Secrets are stored hashed only.
type APIKeyStore interface {
	Create(ctx context.Context, rec *APIKeyRecord) error
	GetByKeyID(ctx context.Context, keyID id.APIKeyID) (*APIKeyRecord, error)
	TouchLastUsed(ctx context.Context, keyID id.APIKeyID, at time.Time) error
	RevokeByTenant(ctx context.Context, tenantID id.TenantID) (int, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]APIKeyRecord, error)
}
