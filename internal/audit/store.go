package audit

import (
	"context"

	id "tenantgate/pkg/domain"
)

// Store is the append-only persistence contract for audit entries.
// No update or delete operation exists on purpose.
type Store interface {
	// Append persists the entry, assigning its per-tenant sequence number.
	Append(ctx context.Context, entry *Entry) error
	// ListByTenant returns a tenant's entries ordered by sequence.
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]Entry, error)
}
