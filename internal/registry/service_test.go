package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
	svc   *Service
	now   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc, err := New(s.store, 30*time.Second, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.svc = svc
}

func (s *ServiceSuite) createTenant(slug string) *TenantRecord {
	rec, err := s.svc.Create(s.ctx, id.Slug(slug), "Tenant "+slug, PlanStarter, "postgres://db/"+slug)
	s.Require().NoError(err)
	return rec
}

func (s *ServiceSuite) TestLookup() {
	s.Run("unknown slug returns not found", func() {
		_, err := s.svc.Lookup(s.ctx, "ghost")
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("created tenant is resolvable by slug", func() {
		created := s.createTenant("acme")
		rec, err := s.svc.Lookup(s.ctx, "acme")
		s.NoError(err)
		s.Equal(created.ID, rec.ID)
		s.Equal(PlanStarter, rec.Plan)
	})

	s.Run("custom domain resolves to the same tenant", func() {
		created := s.createTenant("globex")
		_, err := s.svc.SetDomain(s.ctx, created.ID, "globex.example.com")
		s.Require().NoError(err)

		rec, err := s.svc.LookupByDomain(s.ctx, "globex.example.com")
		s.NoError(err)
		s.Equal(created.ID, rec.ID)
	})
}

func (s *ServiceSuite) TestCacheBoundsStaleness() {
	created := s.createTenant("acme")

	// Prime the cache.
	_, err := s.svc.Lookup(s.ctx, "acme")
	s.Require().NoError(err)

	// Suspend behind the service's back (no invalidation) to model a stale
	// replica: the cached record stays visible until the TTL expires.
	rec, err := s.store.GetByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Require().NoError(rec.Suspend(s.now))
	s.Require().NoError(s.store.Update(s.ctx, rec))

	cached, err := s.svc.Lookup(s.ctx, "acme")
	s.NoError(err)
	s.Equal(TenantStatusActive, cached.Status, "stale read within TTL is allowed")

	// Past the TTL the suspension must be visible.
	s.now = s.now.Add(31 * time.Second)
	fresh, err := s.svc.Lookup(s.ctx, "acme")
	s.NoError(err)
	s.Equal(TenantStatusSuspended, fresh.Status)
}

func (s *ServiceSuite) TestSuspendInvalidatesImmediately() {
	created := s.createTenant("acme")
	_, err := s.svc.Lookup(s.ctx, "acme")
	s.Require().NoError(err)

	_, err = s.svc.Suspend(s.ctx, created.ID)
	s.Require().NoError(err)

	rec, err := s.svc.Lookup(s.ctx, "acme")
	s.NoError(err)
	s.Equal(TenantStatusSuspended, rec.Status, "explicit update must bypass the TTL window")
}

func (s *ServiceSuite) TestSuspendNotifiesListeners() {
	created := s.createTenant("acme")

	var got []TenantRecord
	s.svc.Subscribe(func(rec TenantRecord) { got = append(got, rec) })

	_, err := s.svc.Suspend(s.ctx, created.ID)
	s.Require().NoError(err)

	s.Require().Len(got, 1)
	s.Equal(created.ID, got[0].ID)
	s.Equal(TenantStatusSuspended, got[0].Status)
}

func (s *ServiceSuite) TestSoftDelete() {
	created := s.createTenant("acme")

	rec, err := s.svc.SoftDelete(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(TenantStatusDeleted, rec.Status)
	s.Require().NotNil(rec.DeletedAt)

	// The record is retained, not hard-deleted.
	kept, err := s.svc.Lookup(s.ctx, "acme")
	s.NoError(err)
	s.False(kept.IsActive())

	// Deleting twice violates the lifecycle.
	_, err = s.svc.SoftDelete(s.ctx, created.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestChangePlan() {
	created := s.createTenant("acme")

	rec, err := s.svc.ChangePlan(s.ctx, created.ID, PlanEnterprise)
	s.Require().NoError(err)
	s.Equal(PlanEnterprise, rec.Plan)
	s.Equal(LimitsFor(PlanEnterprise), rec.Ref().Limits())

	_, err = s.svc.ChangePlan(s.ctx, created.ID, PlanTier("platinum"))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestDuplicateSlugRejected() {
	s.createTenant("acme")
	_, err := s.svc.Create(s.ctx, "acme", "Other", PlanFree, "postgres://db/other")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestGetStats() {
	a := s.createTenant("a1")
	s.createTenant("b2")
	c := s.createTenant("c3")

	_, err := s.svc.Suspend(s.ctx, a.ID)
	s.Require().NoError(err)
	_, err = s.svc.SoftDelete(s.ctx, c.ID)
	s.Require().NoError(err)

	stats, err := s.svc.GetStats(s.ctx)
	s.NoError(err)
	s.Equal(Stats{Total: 3, Active: 1, Suspended: 1, Deleted: 1}, stats)
}
