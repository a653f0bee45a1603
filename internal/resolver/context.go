package resolver

import (
	"context"

	"tenantgate/internal/registry"
)

type tenantKey struct{}

// WithTenant attaches the resolved tenant to the request context. This is the
// single source of truth for the rest of the pipeline; downstream components
// must read it instead of re-resolving.
func WithTenant(ctx context.Context, ref registry.TenantRef) context.Context {
	return context.WithValue(ctx, tenantKey{}, ref)
}

// TenantFrom retrieves the resolved tenant from the context.
func TenantFrom(ctx context.Context) (registry.TenantRef, bool) {
	ref, ok := ctx.Value(tenantKey{}).(registry.TenantRef)
	return ref, ok && !ref.IsZero()
}
