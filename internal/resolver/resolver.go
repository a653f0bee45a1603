// Package resolver determines which tenant owns an inbound request.
//
// Resolution runs an ordered list of independent strategies over the request;
// the first strategy that produces a tenant wins. Strategies only extract an
// identity hint (slug, domain, or API key) and delegate the authoritative
// lookup to the registry, so they stay decoupled from transport internals.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
	"tenantgate/pkg/secrets"
)

// HeaderTenantSlug is the explicit tenant selection header.
const HeaderTenantSlug = "X-Tenant-Slug"

// HeaderAPIKey carries a tenant API key outside the Authorization header.
const HeaderAPIKey = "X-API-Key"

// reservedSubdomains never resolve to tenants even if a matching slug exists.
var reservedSubdomains = map[string]struct{}{
	"www": {}, "api": {}, "app": {}, "admin": {},
}

// RegistryClient is the slice of the registry the resolver consumes.
type RegistryClient interface {
	Lookup(ctx context.Context, slug id.Slug) (*registry.TenantRecord, error)
	LookupByDomain(ctx context.Context, domain string) (*registry.TenantRecord, error)
	LookupByID(ctx context.Context, tenantID id.TenantID) (*registry.TenantRecord, error)
}

// APIKeyDirectory maps a presented API key to the single tenant it belongs
// to. Implemented by the auth gateway's key store; the resolver never sees
// key secrets beyond passing them through.
type APIKeyDirectory interface {
	TenantForKey(ctx context.Context, key string) (id.TenantID, error)
}

// Resolver extracts a tenant identity from inbound requests.
type Resolver struct {
	reg        RegistryClient
	keys       APIKeyDirectory
	baseDomain string
	logger     *slog.Logger

	strategies []strategy
}

type strategy struct {
	name    string
	resolve func(ctx context.Context, r *http.Request) (*registry.TenantRecord, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithAPIKeyDirectory enables the API-key resolution strategy.
func WithAPIKeyDirectory(keys APIKeyDirectory) Option {
	return func(r *Resolver) { r.keys = keys }
}

// New creates a resolver. baseDomain is the shared host suffix used for
// subdomain extraction ({slug}.baseDomain).
func New(reg RegistryClient, baseDomain string, opts ...Option) *Resolver {
	r := &Resolver{
		reg:        reg,
		baseDomain: strings.ToLower(baseDomain),
	}
	for _, opt := range opts {
		opt(r)
	}
	// Fixed priority order; first match wins.
	r.strategies = []strategy{
		{name: "header", resolve: r.fromHeader},
		{name: "subdomain", resolve: r.fromSubdomain},
		{name: "custom_domain", resolve: r.fromCustomDomain},
		{name: "path_prefix", resolve: r.fromPath},
		{name: "api_key", resolve: r.fromAPIKey},
	}
	return r
}

// Resolve determines the tenant for a request and gates on availability.
//
// Unknown tenants fail with tenant_not_resolved; suspended or deleted tenants
// fail with tenant_unavailable. The HTTP layer renders both identically so
// existence cannot be probed, but they are logged distinctly here.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (registry.TenantRef, error) {
	for _, st := range r.strategies {
		rec, err := st.resolve(ctx, req)
		if err != nil {
			return registry.TenantRef{}, err
		}
		if rec == nil {
			continue
		}
		if !rec.IsActive() {
			if r.logger != nil {
				r.logger.WarnContext(ctx, "resolved tenant is unavailable",
					"strategy", st.name,
					"slug", rec.Slug,
					"status", rec.Status,
				)
			}
			return registry.TenantRef{}, dErrors.New(dErrors.CodeTenantUnavailable, "tenant unavailable")
		}
		if r.logger != nil {
			r.logger.DebugContext(ctx, "tenant resolved", "strategy", st.name, "slug", rec.Slug)
		}
		return rec.Ref(), nil
	}
	return registry.TenantRef{}, dErrors.New(dErrors.CodeTenantNotResolved, "tenant not resolved")
}

// fromHeader matches the explicit X-Tenant-Slug header.
func (r *Resolver) fromHeader(ctx context.Context, req *http.Request) (*registry.TenantRecord, error) {
	raw := req.Header.Get(HeaderTenantSlug)
	if raw == "" {
		return nil, nil
	}
	slug, err := id.ParseSlug(strings.ToLower(raw))
	if err != nil {
		// A malformed explicit header is indistinguishable from an unknown
		// tenant on the wire.
		return nil, dErrors.New(dErrors.CodeTenantNotResolved, "tenant not resolved")
	}
	return r.lookup(ctx, slug)
}

// fromSubdomain extracts {slug}.baseDomain from the request host.
func (r *Resolver) fromSubdomain(ctx context.Context, req *http.Request) (*registry.TenantRecord, error) {
	host := hostOnly(req.Host)
	suffix := "." + r.baseDomain
	if r.baseDomain == "" || !strings.HasSuffix(host, suffix) {
		return nil, nil
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		return nil, nil
	}
	if _, reserved := reservedSubdomains[sub]; reserved {
		return nil, nil
	}
	slug, err := id.ParseSlug(sub)
	if err != nil {
		return nil, nil
	}
	return r.lookup(ctx, slug)
}

// fromCustomDomain matches the host against registered custom domains.
func (r *Resolver) fromCustomDomain(ctx context.Context, req *http.Request) (*registry.TenantRecord, error) {
	host := hostOnly(req.Host)
	if host == "" || host == r.baseDomain {
		return nil, nil
	}
	rec, err := r.reg.LookupByDomain(ctx, host)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// fromPath extracts /tenant/{slug}/... or /t/{slug}/... prefixes.
func (r *Resolver) fromPath(ctx context.Context, req *http.Request) (*registry.TenantRecord, error) {
	path := req.URL.Path
	var rest string
	switch {
	case strings.HasPrefix(path, "/tenant/"):
		rest = path[len("/tenant/"):]
	case strings.HasPrefix(path, "/t/"):
		rest = path[len("/t/"):]
	default:
		return nil, nil
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	slug, err := id.ParseSlug(rest)
	if err != nil {
		return nil, nil
	}
	return r.lookup(ctx, slug)
}

// fromAPIKey maps a presented API key to its owning tenant. The key itself
// encodes exactly one tenant; authentication of the key happens later in the
// auth gateway against the tenant resolved here.
func (r *Resolver) fromAPIKey(ctx context.Context, req *http.Request) (*registry.TenantRecord, error) {
	if r.keys == nil {
		return nil, nil
	}
	key := req.Header.Get(HeaderAPIKey)
	if key == "" {
		if after, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer "); ok && secrets.IsAPIKey(after) {
			key = after
		}
	}
	if key == "" {
		return nil, nil
	}
	tenantID, err := r.keys.TenantForKey(ctx, key)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := r.reg.LookupByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *Resolver) lookup(ctx context.Context, slug id.Slug) (*registry.TenantRecord, error) {
	rec, err := r.reg.Lookup(ctx, slug)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// hostOnly strips the port from a Host header value.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.ToLower(h)
	}
	return strings.ToLower(host)
}
