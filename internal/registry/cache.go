package registry

import (
	"sync"
	"time"

	id "tenantgate/pkg/domain"
)

// cacheEntry holds a tenant snapshot with its expiry. Negative entries
// (missing tenants) are not cached so newly created tenants resolve promptly.
type cacheEntry struct {
	rec       *TenantRecord
	expiresAt time.Time
}

// recordCache is a TTL read-through cache for tenant records, keyed by slug
// and by custom domain. Staleness is bounded by the TTL: a suspended tenant
// becomes unreachable within one TTL window at worst, and Invalidate drops
// it immediately on explicit updates.
type recordCache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	bySlug   map[id.Slug]cacheEntry
	byDomain map[string]cacheEntry
}

func newRecordCache(ttl time.Duration, now func() time.Time) *recordCache {
	if now == nil {
		now = time.Now
	}
	return &recordCache{
		ttl:      ttl,
		now:      now,
		bySlug:   make(map[id.Slug]cacheEntry),
		byDomain: make(map[string]cacheEntry),
	}
}

func (c *recordCache) getBySlug(slug id.Slug) (*TenantRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid(c.bySlug[slug])
}

func (c *recordCache) getByDomain(domain string) (*TenantRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid(c.byDomain[domain])
}

func (c *recordCache) valid(e cacheEntry) (*TenantRecord, bool) {
	if e.rec == nil || c.now().After(e.expiresAt) {
		return nil, false
	}
	cp := *e.rec
	return &cp, true
}

func (c *recordCache) put(rec *TenantRecord) {
	cp := *rec
	e := cacheEntry{rec: &cp, expiresAt: c.now().Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySlug[rec.Slug] = e
	if rec.Domain != "" {
		c.byDomain[rec.Domain] = e
	}
}

func (c *recordCache) invalidate(rec *TenantRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bySlug, rec.Slug)
	if rec.Domain != "" {
		delete(c.byDomain, rec.Domain)
	}
}
