package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

type EnforcerSuite struct {
	suite.Suite
	ctx context.Context

	store    *InMemoryStore
	enforcer *Enforcer

	clockMu sync.Mutex
	clock   time.Time

	tenant registry.TenantRef
}

func TestEnforcerSuite(t *testing.T) {
	suite.Run(t, new(EnforcerSuite))
}

func (s *EnforcerSuite) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock
}

func (s *EnforcerSuite) advance(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = s.clock.Add(d)
}

func (s *EnforcerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore()
	s.store.now = s.now
	s.enforcer = New(s.store, 24*time.Hour, WithClock(s.now))
	s.tenant = registry.TenantRef{ID: id.NewTenantID(), Slug: "acme", Plan: registry.PlanFree}
}

func (s *EnforcerSuite) usageOf(metric Metric) int64 {
	report, err := s.enforcer.Usage(s.ctx, s.tenant)
	s.Require().NoError(err)
	for _, row := range report.Metrics {
		if row.Metric == metric {
			return row.Used
		}
	}
	s.FailNow("metric missing from report")
	return 0
}

func (s *EnforcerSuite) TestReserveAndCommit() {
	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAPICalls, 3)
	s.Require().NoError(err)
	res.Commit()

	s.Equal(int64(3), s.usageOf(MetricAPICalls))
}

func (s *EnforcerSuite) TestReleaseReturnsUnits() {
	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAPICalls, 3)
	s.Require().NoError(err)
	res.Release(s.ctx)
	res.Release(s.ctx) // idempotent

	s.Equal(int64(0), s.usageOf(MetricAPICalls), "a released reservation leaves usage unchanged")
}

func (s *EnforcerSuite) TestCommitWinsOverLateRelease() {
	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAPICalls, 2)
	s.Require().NoError(err)
	res.Commit()
	res.Release(s.ctx) // too late, already settled

	s.Equal(int64(2), s.usageOf(MetricAPICalls))
}

func (s *EnforcerSuite) TestExceededCarriesUsageAndLimit() {
	// Free plan allows 100 AI requests per period.
	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 99)
	s.Require().NoError(err)
	res.Commit()

	_, err = s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 2)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))

	var exceeded *ExceededError
	s.Require().True(errors.As(err, &exceeded))
	s.Equal(MetricAIRequests, exceeded.Metric)
	s.Equal(int64(99), exceeded.Usage)
	s.Equal(int64(100), exceeded.Limit)

	s.Equal(int64(99), s.usageOf(MetricAIRequests), "a denied reservation consumes nothing")

	// A request that fits the remaining budget still goes through.
	res, err = s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 1)
	s.Require().NoError(err)
	res.Commit()
}

func (s *EnforcerSuite) TestConcurrentReservationsNeverOverspend() {
	// 150 concurrent requests against a limit of 100: exactly 100 may win.
	const attempts = 150
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 1)
			if err == nil {
				granted.Add(1)
				res.Commit()
			}
		}()
	}
	wg.Wait()

	s.Equal(int64(100), granted.Load())
	s.Equal(int64(100), s.usageOf(MetricAIRequests))
}

func (s *EnforcerSuite) TestWindowRollsOverAtPeriodBoundary() {
	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAPICalls, 10)
	s.Require().NoError(err)
	res.Commit()
	s.Equal(int64(10), s.usageOf(MetricAPICalls))

	s.advance(24 * time.Hour)
	s.Equal(int64(0), s.usageOf(MetricAPICalls), "windowed counters reset each period")

	res, err = s.enforcer.Reserve(s.ctx, s.tenant, MetricAPICalls, 1)
	s.Require().NoError(err)
	res.Commit()
	s.Equal(int64(1), s.usageOf(MetricAPICalls))
}

func (s *EnforcerSuite) TestLevelMetricsDoNotRollOver() {
	s.Require().NoError(s.enforcer.SetLevel(s.ctx, s.tenant, MetricStorageMB, 512))
	s.Equal(int64(512), s.usageOf(MetricStorageMB))

	s.advance(48 * time.Hour)
	s.Equal(int64(512), s.usageOf(MetricStorageMB), "storage is a level, not a rate")

	s.Require().NoError(s.enforcer.SetLevel(s.ctx, s.tenant, MetricStorageMB, 300))
	s.Equal(int64(300), s.usageOf(MetricStorageMB))
}

func (s *EnforcerSuite) TestSetLevelRejectsWindowedMetrics() {
	err := s.enforcer.SetLevel(s.ctx, s.tenant, MetricAPICalls, 5)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *EnforcerSuite) TestUsageReportShape() {
	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 25)
	s.Require().NoError(err)
	res.Commit()

	report, err := s.enforcer.Usage(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.Equal("acme", report.Slug)
	s.Equal("free", report.Plan)
	s.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), report.PeriodStart)
	s.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), report.PeriodEnd)
	s.Require().Len(report.Metrics, len(AllMetrics))

	for _, row := range report.Metrics {
		if row.Metric != MetricAIRequests {
			continue
		}
		s.Equal(int64(25), row.Used)
		s.Equal(int64(100), row.Limit)
		s.Equal(int64(75), row.Remaining)
		s.InDelta(25.0, row.Percent, 0.001)
	}
}

func (s *EnforcerSuite) TestTenantsAreMeteredIndependently() {
	other := registry.TenantRef{ID: id.NewTenantID(), Slug: "globex", Plan: registry.PlanFree}

	res, err := s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 100)
	s.Require().NoError(err)
	res.Commit()

	_, err = s.enforcer.Reserve(s.ctx, s.tenant, MetricAIRequests, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))

	res, err = s.enforcer.Reserve(s.ctx, other, MetricAIRequests, 1)
	s.Require().NoError(err, "one tenant exhausting its budget never affects another")
	res.Commit()
}
