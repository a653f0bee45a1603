// Package connrouter hands out database connections from isolated per-tenant
// pools. Pools are created lazily on first use, sized independently so one
// tenant's load cannot starve another's, and evicted when idle or when the
// tenant leaves service.
package connrouter

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"tenantgate/internal/platform/database"
	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// RegistryClient is the slice of the registry the router consumes. The
// tenant's database URL lives on the full record, never on the request-scoped
// ref, so pool creation is the only place it is read.
type RegistryClient interface {
	LookupByID(ctx context.Context, tenantID id.TenantID) (*registry.TenantRecord, error)
}

// Opener creates the underlying pool for a tenant database. Swappable in
// tests.
type Opener func(url string, size int) (*database.Pool, error)

func defaultOpener(url string, size int) (*database.Pool, error) {
	cfg := database.DefaultConfig()
	cfg.URL = url
	cfg.MaxOpenConns = size
	cfg.MaxIdleConns = size
	return database.Open(cfg)
}

// Config bounds pool behavior per tenant.
type Config struct {
	// Size is the maximum number of simultaneous leases per tenant.
	Size int
	// AcquireTimeout bounds how long Acquire waits for a free slot before
	// failing with a retryable pool_exhausted error.
	AcquireTimeout time.Duration
	// IdleTimeout is how long an unused pool survives before eviction.
	IdleTimeout time.Duration
}

// Router owns the per-tenant pool map.
type Router struct {
	reg     RegistryClient
	cfg     Config
	opener  Opener
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu     sync.Mutex
	pools  map[id.TenantID]*tenantPool
	closed bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

type tenantPool struct {
	tenantID id.TenantID
	slug     id.Slug
	pool     *database.Pool
	sem      *semaphore.Weighted

	mu       sync.Mutex
	active   int
	lastUsed time.Time
	evicted  bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the router metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithOpener overrides pool creation (tests).
func WithOpener(open Opener) Option {
	return func(r *Router) { r.opener = open }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a connection router.
func New(reg RegistryClient, cfg Config, opts ...Option) *Router {
	if cfg.Size <= 0 {
		cfg.Size = 5
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	r := &Router{
		reg:       reg,
		cfg:       cfg,
		opener:    defaultOpener,
		now:       time.Now,
		pools:     make(map[id.TenantID]*tenantPool),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweep()
	return r
}

// Handle is a leased connection slot. Release returns the slot to the
// tenant's pool and is safe to call more than once.
type Handle struct {
	tp          *tenantPool
	releaseOnce sync.Once
}

// DB exposes the tenant's database for the duration of the lease.
func (h *Handle) DB() *sql.DB {
	return h.tp.pool.DB()
}

// Tenant returns the tenant the lease belongs to.
func (h *Handle) Tenant() id.TenantID {
	return h.tp.tenantID
}

// Release returns the slot. Idempotent.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.tp.mu.Lock()
		h.tp.active--
		h.tp.mu.Unlock()
		h.tp.sem.Release(1)
	})
}

// Acquire leases a connection slot from the tenant's pool, creating the pool
// on first use. When all slots are busy it waits up to the configured acquire
// timeout and then fails with a retryable pool_exhausted error.
func (r *Router) Acquire(ctx context.Context, tenant registry.TenantRef) (*Handle, error) {
	tp, err := r.poolFor(ctx, tenant)
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, r.cfg.AcquireTimeout)
	defer cancel()

	if err := tp.sem.Acquire(acquireCtx, 1); err != nil {
		r.countAcquire("exhausted")
		if r.logger != nil {
			r.logger.WarnContext(ctx, "tenant pool exhausted", "tenant_id", tenant.ID, "slug", tenant.Slug)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "acquire canceled")
		}
		return nil, dErrors.New(dErrors.CodePoolExhausted, "tenant connection pool exhausted")
	}

	tp.mu.Lock()
	if tp.evicted {
		tp.mu.Unlock()
		tp.sem.Release(1)
		// Pool was evicted between lookup and acquisition; retry once with a
		// fresh pool.
		return r.Acquire(ctx, tenant)
	}
	tp.active++
	tp.lastUsed = r.now()
	tp.mu.Unlock()

	r.countAcquire("success")
	return &Handle{tp: tp}, nil
}

// Evict closes and removes a tenant's pool. In-flight leases keep their
// connections; the underlying pool closes once they are released by the
// database/sql layer.
func (r *Router) Evict(tenantID id.TenantID) {
	r.mu.Lock()
	tp, ok := r.pools[tenantID]
	if ok {
		delete(r.pools, tenantID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.closePool(tp, "evicted")
}

// OnTenantChange drops the pool of any tenant that left active service.
// Wired to the registry's change notifications.
func (r *Router) OnTenantChange(rec registry.TenantRecord) {
	if rec.IsActive() {
		return
	}
	r.Evict(rec.ID)
}

// Stats describes a tenant's pool for the admin surface.
type Stats struct {
	TenantID     id.TenantID `json:"tenant_id"`
	Slug         id.Slug     `json:"slug"`
	ActiveLeases int         `json:"active_leases"`
	Size         int         `json:"size"`
	LastUsed     time.Time   `json:"last_used"`
}

// StatsAll snapshots every live pool.
func (r *Router) StatsAll() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.pools))
	for _, tp := range r.pools {
		tp.mu.Lock()
		out = append(out, Stats{
			TenantID:     tp.tenantID,
			Slug:         tp.slug,
			ActiveLeases: tp.active,
			Size:         r.cfg.Size,
			LastUsed:     tp.lastUsed,
		})
		tp.mu.Unlock()
	}
	return out
}

// Close evicts every pool and stops the idle sweeper.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pools := make([]*tenantPool, 0, len(r.pools))
	for _, tp := range r.pools {
		pools = append(pools, tp)
	}
	r.pools = make(map[id.TenantID]*tenantPool)
	r.mu.Unlock()

	close(r.stopSweep)
	<-r.sweepDone
	for _, tp := range pools {
		r.closePool(tp, "shutdown")
	}
}

func (r *Router) poolFor(ctx context.Context, tenant registry.TenantRef) (*tenantPool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeInternal, "connection router is shut down")
	}
	if tp, ok := r.pools[tenant.ID]; ok {
		r.mu.Unlock()
		return tp, nil
	}
	r.mu.Unlock()

	// Record lookup and pool opening happen outside the map lock; losers of
	// the create race close their pool and use the winner's.
	rec, err := r.reg.LookupByID(ctx, tenant.ID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeTenantUnavailable, "tenant unavailable")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "tenant lookup failed")
	}
	if !rec.IsActive() {
		return nil, dErrors.New(dErrors.CodeTenantUnavailable, "tenant unavailable")
	}

	pool, err := r.opener(rec.DatabaseURL, r.cfg.Size)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not open tenant database")
	}

	tp := &tenantPool{
		tenantID: tenant.ID,
		slug:     rec.Slug,
		pool:     pool,
		sem:      semaphore.NewWeighted(int64(r.cfg.Size)),
		lastUsed: r.now(),
	}

	r.mu.Lock()
	if existing, ok := r.pools[tenant.ID]; ok {
		r.mu.Unlock()
		pool.Close() //nolint:errcheck
		return existing, nil
	}
	if r.closed {
		r.mu.Unlock()
		pool.Close() //nolint:errcheck
		return nil, dErrors.New(dErrors.CodeInternal, "connection router is shut down")
	}
	r.pools[tenant.ID] = tp
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PoolsOpened.Inc()
		r.metrics.PoolsLive.Inc()
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "tenant pool opened", "tenant_id", tenant.ID, "slug", rec.Slug, "size", r.cfg.Size)
	}
	return tp, nil
}

func (r *Router) closePool(tp *tenantPool, reason string) {
	tp.mu.Lock()
	tp.evicted = true
	tp.mu.Unlock()
	if err := tp.pool.Close(); err != nil && r.logger != nil {
		r.logger.Error("failed to close tenant pool", "error", err, "tenant_id", tp.tenantID)
	}
	if r.metrics != nil {
		r.metrics.PoolsLive.Dec()
		r.metrics.PoolsClosed.WithLabelValues(reason).Inc()
	}
	if r.logger != nil {
		r.logger.Info("tenant pool closed", "tenant_id", tp.tenantID, "slug", tp.slug, "reason", reason)
	}
}

// sweep evicts pools idle past the configured timeout.
func (r *Router) sweep() {
	defer close(r.sweepDone)
	ticker := time.NewTicker(r.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Router) sweepOnce() {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var idle []*tenantPool
	for tid, tp := range r.pools {
		tp.mu.Lock()
		if tp.active == 0 && tp.lastUsed.Before(cutoff) {
			idle = append(idle, tp)
			delete(r.pools, tid)
		}
		tp.mu.Unlock()
	}
	r.mu.Unlock()

	for _, tp := range idle {
		r.closePool(tp, "idle")
	}
}
