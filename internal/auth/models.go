// Package auth is the gateway that authenticates principals and binds every
// credential to exactly one tenant. Tokens and API keys issued for one tenant
// are never valid on another, regardless of how the request was resolved.
package auth

import (
	"time"

	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// PrincipalKind distinguishes interactive users from API key holders.
type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalService PrincipalKind = "service"
)

// Principal is the authenticated identity attached to a request after the
// gateway has verified credentials and tenant binding.
type Principal struct {
	ID       id.PrincipalID `json:"id"`
	TenantID id.TenantID    `json:"tenant_id"`
	Email    string         `json:"email,omitempty"`
	Role     id.Role        `json:"role"`
	Kind     PrincipalKind  `json:"kind"`

	// KeyID is set for service principals authenticated via API key.
	KeyID id.APIKeyID `json:"key_id,omitempty"`
}

// User is a credentialed account belonging to exactly one tenant.
// Email uniqueness is scoped per tenant, not global.
type User struct {
	ID           id.PrincipalID `json:"id"`
	TenantID     id.TenantID    `json:"tenant_id"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	Role         id.Role        `json:"role"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewUser validates inputs and builds a user record. The caller supplies an
// already-hashed password; plaintext never reaches this layer.
func NewUser(tenantID id.TenantID, email, passwordHash string, role id.Role, now time.Time) (*User, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user must belong to a tenant")
	}
	if email == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email cannot be empty")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash cannot be empty")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown role")
	}
	return &User{
		ID:           id.NewPrincipalID(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// RefreshTokenRecord tracks an issued refresh token by its JTI so rotation
// and revocation can be enforced server-side.
type RefreshTokenRecord struct {
	JTI         string         `json:"jti"`
	PrincipalID id.PrincipalID `json:"principal_id"`
	TenantID    id.TenantID    `json:"tenant_id"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Revoked     bool           `json:"revoked"`
	CreatedAt   time.Time      `json:"created_at"`
}

// APIKeyRecord is a tenant-scoped machine credential. Only the bcrypt hash of
// the secret part is stored; the full key is shown once at creation.
type APIKeyRecord struct {
	KeyID      id.APIKeyID `json:"key_id"`
	TenantID   id.TenantID `json:"tenant_id"`
	Name       string      `json:"name"`
	SecretHash string      `json:"-"`
	Role       id.Role     `json:"role"`
	Revoked    bool        `json:"revoked"`
	CreatedAt  time.Time   `json:"created_at"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty"`
}

// TokenPair is the login/refresh response payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RequestMeta carries the transport facts the audit trail records.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// tenantRef is re-exported for call-site readability.
type TenantRef = registry.TenantRef
