package connrouter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
	httpErrors "tenantgate/pkg/http-errors"
)

type RouterSuite struct {
	suite.Suite
	ctx context.Context

	reg    *registry.Service
	router *Router

	clockMu sync.Mutex
	clock   time.Time

	tenantA registry.TenantRef
	tenantB registry.TenantRef
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock
}

func (s *RouterSuite) advance(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = s.clock.Add(d)
}

func (s *RouterSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var err error
	s.reg, err = registry.New(registry.NewInMemoryStore(), 30*time.Second, registry.WithClock(s.now))
	s.Require().NoError(err)

	recA, err := s.reg.Create(s.ctx, "acme", "Acme Corp", registry.PlanBusiness, "postgres://db-acme.internal/acme")
	s.Require().NoError(err)
	recB, err := s.reg.Create(s.ctx, "globex", "Globex", registry.PlanFree, "postgres://db-globex.internal/globex")
	s.Require().NoError(err)
	s.tenantA = recA.Ref()
	s.tenantB = recB.Ref()

	s.router = New(s.reg, Config{
		Size:           2,
		AcquireTimeout: 50 * time.Millisecond,
		IdleTimeout:    5 * time.Minute,
	}, WithClock(s.now))
	s.reg.Subscribe(s.router.OnTenantChange)
}

func (s *RouterSuite) TearDownTest() {
	s.router.Close()
}

func (s *RouterSuite) TestAcquireAndRelease() {
	h, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	s.NotNil(h.DB())
	s.Equal(s.tenantA.ID, h.Tenant())

	stats := s.router.StatsAll()
	s.Require().Len(stats, 1)
	s.Equal(1, stats[0].ActiveLeases)

	h.Release()
	h.Release() // idempotent

	stats = s.router.StatsAll()
	s.Require().Len(stats, 1)
	s.Equal(0, stats[0].ActiveLeases)
}

func (s *RouterSuite) TestExhaustionIsRetryable() {
	h1, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	h2, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)

	_, err = s.router.Acquire(s.ctx, s.tenantA)
	s.True(dErrors.HasCode(err, dErrors.CodePoolExhausted))
	s.True(httpErrors.Retryable(dErrors.CodeOf(err)), "exhaustion asks the caller to back off and retry")

	h1.Release()
	h3, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err, "released slot becomes available")
	h3.Release()
	h2.Release()
}

func (s *RouterSuite) TestPoolsAreIsolatedPerTenant() {
	h1, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	h2, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)

	// Tenant A is fully loaded; tenant B is unaffected.
	hb, err := s.router.Acquire(s.ctx, s.tenantB)
	s.Require().NoError(err)

	hb.Release()
	h1.Release()
	h2.Release()
}

func (s *RouterSuite) TestSuspensionEvictsPool() {
	h, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	h.Release()
	s.Require().Len(s.router.StatsAll(), 1)

	_, err = s.reg.Suspend(s.ctx, s.tenantA.ID)
	s.Require().NoError(err)

	s.Empty(s.router.StatsAll(), "suspension drops the tenant's pool")

	_, err = s.router.Acquire(s.ctx, s.tenantA)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantUnavailable))
}

func (s *RouterSuite) TestUnknownTenant() {
	ghost := registry.TenantRef{ID: id.NewTenantID(), Slug: "ghost", Plan: registry.PlanFree}
	_, err := s.router.Acquire(s.ctx, ghost)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantUnavailable))
}

func (s *RouterSuite) TestIdleSweep() {
	h, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	h.Release()
	s.Require().Len(s.router.StatsAll(), 1)

	s.advance(6 * time.Minute)
	s.router.sweepOnce()

	s.Empty(s.router.StatsAll(), "idle pools are reclaimed")

	// A fresh acquisition recreates the pool.
	h, err = s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	h.Release()
	s.Require().Len(s.router.StatsAll(), 1)
}

func (s *RouterSuite) TestSweepSparesBusyPools() {
	h, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)

	s.advance(6 * time.Minute)
	s.router.sweepOnce()

	s.Require().Len(s.router.StatsAll(), 1, "a pool with an active lease is never swept")
	h.Release()
}

func (s *RouterSuite) TestAcquireHonorsCanceledContext() {
	h1, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)
	h2, err := s.router.Acquire(s.ctx, s.tenantA)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err = s.router.Acquire(ctx, s.tenantA)
	s.Error(err)

	h1.Release()
	h2.Release()
}
