// Package registry is the authoritative catalog of tenant records. It is the
// leaf dependency of the request pipeline: the resolver, auth gateway,
// connection router, and quota enforcer all consult it and hold only
// read-only snapshots of what it returns.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// ChangeListener is notified after a tenant record changes in a way that must
// propagate immediately (suspension, deletion, plan change). The connection
// router and auth gateway subscribe to evict pools and revoke tokens.
type ChangeListener func(rec TenantRecord)

// Service wraps the tenant store with a TTL cache and the administrative
// operations the external admin surface consumes.
type Service struct {
	store   Store
	cache   *recordCache
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu        sync.RWMutex
	listeners []ChangeListener
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the registry metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.cache.now = now
	}
}

// New creates a registry service with the given store and cache TTL.
func New(store Store, cacheTTL time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("registry store is required")
	}
	svc := &Service{
		store: store,
		cache: newRecordCache(cacheTTL, nil),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Subscribe registers a listener for tenant change events.
func (s *Service) Subscribe(fn ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(rec *TenantRecord) {
	s.mu.RLock()
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(*rec)
	}
}

// Lookup returns the tenant record for a slug, read-through cached.
// Suspended and deleted tenants are returned as-is; availability gating is
// the caller's responsibility (the resolver owns that policy).
func (s *Service) Lookup(ctx context.Context, slug id.Slug) (*TenantRecord, error) {
	if rec, ok := s.cache.getBySlug(slug); ok {
		s.countCache(true)
		return rec, nil
	}
	s.countCache(false)

	rec, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.countLookup("miss")
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry lookup failed")
	}
	s.cache.put(rec)
	s.countLookup("hit")
	return rec, nil
}

// LookupByDomain returns the tenant record registered for a custom domain.
func (s *Service) LookupByDomain(ctx context.Context, domain string) (*TenantRecord, error) {
	if rec, ok := s.cache.getByDomain(domain); ok {
		s.countCache(true)
		return rec, nil
	}
	s.countCache(false)

	rec, err := s.store.GetByDomain(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.countLookup("miss")
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry lookup failed")
	}
	s.cache.put(rec)
	s.countLookup("hit")
	return rec, nil
}

// LookupByID returns the tenant record by its identifier, bypassing the
// slug/domain cache. Used by the auth gateway for API-key tenant binding.
func (s *Service) LookupByID(ctx context.Context, tenantID id.TenantID) (*TenantRecord, error) {
	rec, err := s.store.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registry lookup failed")
	}
	return rec, nil
}

// Create registers a new tenant (administrative operation, consumed contract).
func (s *Service) Create(ctx context.Context, slug id.Slug, name string, plan PlanTier, databaseURL string) (*TenantRecord, error) {
	rec, err := NewTenant(slug, name, plan, databaseURL, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TenantsCreated.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "tenant created", "tenant_id", rec.ID, "slug", rec.Slug, "plan", rec.Plan)
	}
	return rec, nil
}

// SetDomain attaches or changes a tenant's custom domain.
func (s *Service) SetDomain(ctx context.Context, tenantID id.TenantID, domain string) (*TenantRecord, error) {
	return s.update(ctx, tenantID, func(rec *TenantRecord) error {
		rec.Domain = domain
		rec.UpdatedAt = s.now().UTC()
		return nil
	})
}

// ChangePlan moves a tenant to a different plan tier. Limits attach to the
// tenant only through this explicit operation.
func (s *Service) ChangePlan(ctx context.Context, tenantID id.TenantID, plan PlanTier) (*TenantRecord, error) {
	if !plan.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown plan tier")
	}
	return s.update(ctx, tenantID, func(rec *TenantRecord) error {
		rec.Plan = plan
		rec.UpdatedAt = s.now().UTC()
		return nil
	})
}

// Suspend takes a tenant out of service. Subscribed components revoke its
// tokens and evict its pools; the cache entry is dropped immediately.
func (s *Service) Suspend(ctx context.Context, tenantID id.TenantID) (*TenantRecord, error) {
	rec, err := s.update(ctx, tenantID, func(rec *TenantRecord) error {
		return rec.Suspend(s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TenantsSuspended.Inc()
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "tenant suspended", "tenant_id", rec.ID, "slug", rec.Slug)
	}
	return rec, nil
}

// Reactivate returns a suspended tenant to service.
func (s *Service) Reactivate(ctx context.Context, tenantID id.TenantID) (*TenantRecord, error) {
	return s.update(ctx, tenantID, func(rec *TenantRecord) error {
		return rec.Reactivate(s.now().UTC())
	})
}

// SoftDelete marks a tenant deleted. The record survives so audit entries and
// the external grace period can reference it; it never serves traffic again
// unless explicitly reactivated by support tooling.
func (s *Service) SoftDelete(ctx context.Context, tenantID id.TenantID) (*TenantRecord, error) {
	return s.update(ctx, tenantID, func(rec *TenantRecord) error {
		return rec.SoftDelete(s.now().UTC())
	})
}

// List returns all tenant records (administrative operation).
func (s *Service) List(ctx context.Context) ([]*TenantRecord, error) {
	return s.store.List(ctx)
}

// Stats summarizes the catalog for the admin dashboard.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Deleted   int `json:"deleted"`
}

// GetStats counts tenants by status.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	stats.Total = len(recs)
	for _, rec := range recs {
		switch rec.Status {
		case TenantStatusActive:
			stats.Active++
		case TenantStatusSuspended:
			stats.Suspended++
		case TenantStatusDeleted:
			stats.Deleted++
		}
	}
	return stats, nil
}

// update loads, mutates, persists, invalidates, and notifies in one place so
// every administrative path gets identical cache semantics.
func (s *Service) update(ctx context.Context, tenantID id.TenantID, mutate func(*TenantRecord) error) (*TenantRecord, error) {
	rec, err := s.store.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.cache.invalidate(rec)
	s.notify(rec)
	return rec, nil
}

func (s *Service) countCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.Inc()
	} else {
		s.metrics.CacheMisses.Inc()
	}
}

func (s *Service) countLookup(result string) {
	if s.metrics != nil {
		s.metrics.Lookups.WithLabelValues(result).Inc()
	}
}
