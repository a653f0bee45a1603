package registry

import (
	"context"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// ErrNotFound keeps storage-specific 404s consistent across implementations.
// Services should check for it with errors.Is(err, registry.ErrNotFound).
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "tenant not found")

// Store is the persistence contract for the tenant catalog.
//
// Error contract: methods return ErrNotFound when the tenant does not exist,
// nil on success, and wrapped errors with context for infrastructure failures.
type Store interface {
	Create(ctx context.Context, rec *TenantRecord) error
	Update(ctx context.Context, rec *TenantRecord) error
	GetByID(ctx context.Context, tenantID id.TenantID) (*TenantRecord, error)
	GetBySlug(ctx context.Context, slug id.Slug) (*TenantRecord, error)
	GetByDomain(ctx context.Context, domain string) (*TenantRecord, error)
	List(ctx context.Context) ([]*TenantRecord, error)
}
