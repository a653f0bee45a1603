package registry

import (
	"time"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusActive, TenantStatusSuspended, TenantStatusDeleted:
		return true
	}
	return false
}

// PlanTier is the subscription tier a tenant is on.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStarter    PlanTier = "starter"
	PlanBusiness   PlanTier = "business"
	PlanEnterprise PlanTier = "enterprise"
)

func (t PlanTier) IsValid() bool {
	_, ok := planLimits[t]
	return ok
}

// Limits is the set of named resource limits attached to a plan tier.
type Limits struct {
	MaxUsers            int64 `json:"max_users"`
	MaxStorageMB        int64 `json:"max_storage_mb"`
	MaxAPICallsPerDay   int64 `json:"max_api_calls_per_day"`
	MaxAIRequestsPerDay int64 `json:"max_ai_requests_per_day"`
}

// planLimits maps tiers to their limits. Immutable once a tenant is attached
// except via an explicit plan-change operation.
var planLimits = map[PlanTier]Limits{
	PlanFree:       {MaxUsers: 5, MaxStorageMB: 1 * 1024, MaxAPICallsPerDay: 1000, MaxAIRequestsPerDay: 100},
	PlanStarter:    {MaxUsers: 25, MaxStorageMB: 10 * 1024, MaxAPICallsPerDay: 10000, MaxAIRequestsPerDay: 1000},
	PlanBusiness:   {MaxUsers: 100, MaxStorageMB: 50 * 1024, MaxAPICallsPerDay: 50000, MaxAIRequestsPerDay: 5000},
	PlanEnterprise: {MaxUsers: 1000, MaxStorageMB: 500 * 1024, MaxAPICallsPerDay: 500000, MaxAIRequestsPerDay: 50000},
}

// LimitsFor returns the limits for a plan tier.
func LimitsFor(tier PlanTier) Limits {
	return planLimits[tier]
}

// TenantRecord is the authoritative catalog entry for a tenant. The registry
// owns it; every other component holds only a read-only TenantRef snapshot.
type TenantRecord struct {
	ID     id.TenantID  `json:"id"`
	Slug   id.Slug      `json:"slug"`
	Name   string       `json:"name"`
	Status TenantStatus `json:"status"`
	Plan   PlanTier     `json:"plan"`

	// Domain is an optional custom domain routed to this tenant.
	Domain string `json:"domain,omitempty"`

	// DatabaseURL is the opaque connection target for this tenant's
	// isolated data store.
	DatabaseURL string `json:"-"`

	// EncryptionKeyRef names the per-tenant encryption key held by the
	// external secrets manager. The key material never enters this process.
	EncryptionKeyRef string `json:"-"`

	AdminEmail string     `json:"admin_email,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// IsActive reports whether the tenant may serve traffic.
func (t *TenantRecord) IsActive() bool {
	return t.Status == TenantStatusActive && t.DeletedAt == nil
}

// Suspend transitions the tenant to suspended status.
// Returns an error if the tenant is already suspended or deleted.
func (t *TenantRecord) Suspend(now time.Time) error {
	if t.Status != TenantStatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is not active")
	}
	t.Status = TenantStatusSuspended
	t.UpdatedAt = now
	return nil
}

// Reactivate transitions a suspended tenant back to active status.
func (t *TenantRecord) Reactivate(now time.Time) error {
	if t.Status != TenantStatusSuspended {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is not suspended")
	}
	t.Status = TenantStatusActive
	t.UpdatedAt = now
	return nil
}

// SoftDelete marks the tenant deleted. The record is retained: audit entries
// and outstanding sessions reference it until the external grace period ends.
func (t *TenantRecord) SoftDelete(now time.Time) error {
	if t.Status == TenantStatusDeleted {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already deleted")
	}
	t.Status = TenantStatusDeleted
	t.DeletedAt = &now
	t.UpdatedAt = now
	return nil
}

// Ref returns the read-only snapshot handed to downstream components.
func (t *TenantRecord) Ref() TenantRef {
	return TenantRef{ID: t.ID, Slug: t.Slug, Plan: t.Plan}
}

// TenantRef is the resolved tenant identity carried through the request
// pipeline. It is intentionally small: downstream components must never need
// more than identity and plan to stay within the isolation boundary.
type TenantRef struct {
	ID   id.TenantID
	Slug id.Slug
	Plan PlanTier
}

// IsZero reports whether the ref carries no tenant.
func (r TenantRef) IsZero() bool {
	return r.ID.IsNil()
}

// Limits returns the quota limits for the tenant's plan.
func (r TenantRef) Limits() Limits {
	return LimitsFor(r.Plan)
}

// NewTenant validates inputs and builds a fresh active tenant record.
func NewTenant(slug id.Slug, name string, plan PlanTier, databaseURL string, now time.Time) (*TenantRecord, error) {
	if slug.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant slug cannot be empty")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	if !plan.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown plan tier")
	}
	if databaseURL == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant database URL cannot be empty")
	}
	return &TenantRecord{
		ID:          id.NewTenantID(),
		Slug:        slug,
		Name:        name,
		Status:      TenantStatusActive,
		Plan:        plan,
		DatabaseURL: databaseURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
