package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"tenantgate/internal/audit"
	"tenantgate/internal/auth"
	"tenantgate/internal/connrouter"
	"tenantgate/internal/quota"
	"tenantgate/internal/registry"
	"tenantgate/internal/resolver"
	id "tenantgate/pkg/domain"
)

// GatewaySuite exercises the whole pipeline end to end over in-memory
// backends: resolve, authenticate, meter, route.
type GatewaySuite struct {
	suite.Suite
	ctx context.Context

	registry *registry.Service
	authSvc  *auth.Service
	enforcer *quota.Enforcer
	router   *connrouter.Router
	auditLog *audit.Logger
	mux      chi.Router

	acme   registry.TenantRef
	globex registry.TenantRef
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.registry, err = registry.New(registry.NewInMemoryStore(), 30*time.Second, registry.WithLogger(logger))
	s.Require().NoError(err)

	recA, err := s.registry.Create(s.ctx, "acme", "Acme Corp", registry.PlanFree, "postgres://db-acme.internal/acme")
	s.Require().NoError(err)
	recB, err := s.registry.Create(s.ctx, "globex", "Globex", registry.PlanFree, "postgres://db-globex.internal/globex")
	s.Require().NoError(err)
	s.acme = recA.Ref()
	s.globex = recB.Ref()

	auditStore := audit.NewInMemoryStore()
	s.auditLog = audit.NewLogger(auditStore, 64, audit.WithLogger(logger))

	tokens := auth.NewTokenService("e2e-signing-key", "tenantgate-test", 15*time.Minute, 7*24*time.Hour)
	s.authSvc = auth.New(
		auth.NewInMemoryUserStore(),
		auth.NewInMemoryRefreshTokenStore(),
		auth.NewInMemoryAPIKeyStore(),
		tokens,
		auth.WithAudit(s.auditLog),
		auth.WithLogger(logger),
	)
	s.registry.Subscribe(s.authSvc.OnTenantChange)

	res := resolver.New(s.registry, "localhost",
		resolver.WithLogger(logger),
		resolver.WithAPIKeyDirectory(s.authSvc),
	)

	s.router = connrouter.New(s.registry, connrouter.Config{
		Size:           2,
		AcquireTimeout: 100 * time.Millisecond,
		IdleTimeout:    5 * time.Minute,
	}, connrouter.WithLogger(logger))
	s.registry.Subscribe(s.router.OnTenantChange)

	s.enforcer = quota.New(quota.NewInMemoryStore(), 24*time.Hour,
		quota.WithAudit(s.auditLog),
		quota.WithLogger(logger),
	)

	s.mux = NewRouter(Deps{
		Registry:   s.registry,
		Resolver:   res,
		Auth:       s.authSvc,
		ConnRouter: s.router,
		Quota:      s.enforcer,
		AuditLog:   s.auditLog,
		AuditStore: auditStore,
		Logger:     logger,
	})

	_, err = s.authSvc.CreateUser(s.ctx, s.acme, "admin@acme.test", "s3cret-pw", id.RoleAdmin)
	s.Require().NoError(err)
	_, err = s.authSvc.CreateUser(s.ctx, s.globex, "admin@globex.test", "s3cret-pw", id.RoleAdmin)
	s.Require().NoError(err)
}

func (s *GatewaySuite) TearDownTest() {
	s.router.Close()
	s.auditLog.Close()
}

// do fires a request through the full route tree.
func (s *GatewaySuite) do(method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *GatewaySuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
}

func (s *GatewaySuite) login(slug, email, password string) auth.TokenPair {
	rec := s.do(http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password},
		func(r *http.Request) { r.Header.Set(resolver.HeaderTenantSlug, slug) })
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.TokenPair
	s.decode(rec, &pair)
	return pair
}

func withTenantAndToken(slug, token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(resolver.HeaderTenantSlug, slug)
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// Header-resolved login followed by an authenticated usage read.
func (s *GatewaySuite) TestLoginThenUsage() {
	pair := s.login("acme", "admin@acme.test", "s3cret-pw")
	s.NotEmpty(pair.AccessToken)
	s.NotEmpty(pair.RefreshToken)

	rec := s.do(http.MethodGet, "/api/v1/tenant/usage", nil, withTenantAndToken("acme", pair.AccessToken))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var report quota.UsageReport
	s.decode(rec, &report)
	s.Equal("acme", report.Slug)
	s.Equal("free", report.Plan)

	for _, row := range report.Metrics {
		if row.Metric == quota.MetricAPICalls {
			s.Equal(int64(1), row.Used, "the usage read itself is metered")
			s.Equal(int64(1000), row.Limit)
		}
	}
}

// Requests past the period budget are rejected with the offending numbers.
func (s *GatewaySuite) TestQuotaLimitEnforcedAtBoundary() {
	// Burn the AI budget down to 5 remaining (free plan: 100 per period).
	burn, err := s.enforcer.Reserve(s.ctx, s.acme, quota.MetricAIRequests, 95)
	s.Require().NoError(err)
	burn.Commit()

	pair := s.login("acme", "admin@acme.test", "s3cret-pw")
	generate := func() *httptest.ResponseRecorder {
		return s.do(http.MethodPost, "/api/v1/ai/generate",
			map[string]string{"prompt": "hello"},
			withTenantAndToken("acme", pair.AccessToken))
	}

	for i := 0; i < 5; i++ {
		rec := generate()
		s.Require().Equal(http.StatusOK, rec.Code, "call %d should fit the budget: %s", i+1, rec.Body.String())
	}

	rec := generate()
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))

	var denial struct {
		Error  string `json:"error"`
		Metric string `json:"metric"`
		Usage  int64  `json:"usage"`
		Limit  int64  `json:"limit"`
	}
	s.decode(rec, &denial)
	s.Equal("quota_exceeded", denial.Error)
	s.Equal("ai_requests", denial.Metric)
	s.Equal(int64(100), denial.Usage)
	s.Equal(int64(100), denial.Limit)

	// The denied call consumed nothing; the budget stays at the limit.
	report, err := s.enforcer.Usage(s.ctx, s.acme)
	s.Require().NoError(err)
	for _, row := range report.Metrics {
		if row.Metric == quota.MetricAIRequests {
			s.Equal(int64(100), row.Used)
		}
	}
}

// Header and subdomain resolution reach the same tenant.
func (s *GatewaySuite) TestHeaderAndSubdomainAreEquivalent() {
	pair := s.login("acme", "admin@acme.test", "s3cret-pw")

	viaHeader := s.do(http.MethodGet, "/api/v1/tenant/info", nil, withTenantAndToken("acme", pair.AccessToken))
	s.Require().Equal(http.StatusOK, viaHeader.Code, viaHeader.Body.String())

	viaSubdomain := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Host = "acme.localhost"
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	})
	s.Require().Equal(http.StatusOK, viaSubdomain.Code, viaSubdomain.Body.String())

	var a, b tenantInfoResponse
	s.decode(viaHeader, &a)
	s.decode(viaSubdomain, &b)
	s.Equal(a.ID, b.ID, "both strategies resolve the same tenant")
	s.Equal("acme", a.Slug.String())
}

func (s *GatewaySuite) TestUnknownTenantIs404() {
	rec := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Header.Set(resolver.HeaderTenantSlug, "nonexistent")
	})
	s.Equal(http.StatusNotFound, rec.Code)

	var envelope struct {
		Error string `json:"error"`
	}
	s.decode(rec, &envelope)
	s.Equal("tenant_not_found", envelope.Error)
}

func (s *GatewaySuite) TestSuspendedTenantLooksIdenticalToUnknown() {
	_, err := s.registry.Suspend(s.ctx, s.acme.ID)
	s.Require().NoError(err)

	suspended := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Header.Set(resolver.HeaderTenantSlug, "acme")
	})
	unknown := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Header.Set(resolver.HeaderTenantSlug, "nonexistent")
	})

	s.Equal(http.StatusNotFound, suspended.Code)
	s.Equal(unknown.Code, suspended.Code)
	s.JSONEq(unknown.Body.String(), suspended.Body.String(),
		"the wire response must not reveal whether the tenant exists")
}

func (s *GatewaySuite) TestCrossTenantTokenRejected() {
	pair := s.login("acme", "admin@acme.test", "s3cret-pw")

	rec := s.do(http.MethodGet, "/api/v1/tenant/info", nil, withTenantAndToken("globex", pair.AccessToken))
	s.Equal(http.StatusUnauthorized, rec.Code)

	var envelope struct {
		Error string `json:"error"`
	}
	s.decode(rec, &envelope)
	s.Equal("unauthorized", envelope.Error, "mismatches read as a generic auth failure")
}

func (s *GatewaySuite) TestAPIKeyFlow() {
	pair := s.login("acme", "admin@acme.test", "s3cret-pw")

	created := s.do(http.MethodPost, "/api/v1/tenant/keys",
		map[string]string{"name": "ci", "role": "user"},
		withTenantAndToken("acme", pair.AccessToken))
	s.Require().Equal(http.StatusCreated, created.Code, created.Body.String())

	var key createAPIKeyResponse
	s.decode(created, &key)
	s.Require().NotEmpty(key.Key)

	// The API key alone both resolves the tenant and authenticates.
	rec := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Header.Set(resolver.HeaderAPIKey, key.Key)
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var info tenantInfoResponse
	s.decode(rec, &info)
	s.Equal(s.acme.ID, info.ID)

	// The same key presented against another tenant is rejected.
	cross := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Header.Set(resolver.HeaderTenantSlug, "globex")
		r.Header.Set(resolver.HeaderAPIKey, key.Key)
	})
	s.Equal(http.StatusUnauthorized, cross.Code)
}

func (s *GatewaySuite) TestRefreshFlow() {
	pair := s.login("acme", "admin@acme.test", "s3cret-pw")

	rec := s.do(http.MethodPost, "/api/v1/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken},
		func(r *http.Request) { r.Header.Set(resolver.HeaderTenantSlug, "acme") })
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var next auth.TokenPair
	s.decode(rec, &next)
	s.NotEqual(pair.RefreshToken, next.RefreshToken)

	// The rotated-out token no longer works.
	replay := s.do(http.MethodPost, "/api/v1/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken},
		func(r *http.Request) { r.Header.Set(resolver.HeaderTenantSlug, "acme") })
	s.Equal(http.StatusUnauthorized, replay.Code)
}

func (s *GatewaySuite) TestViewerCannotMintKeys() {
	pair := s.login("acme", "admin@acme.test", "s3cret-pw")
	created := s.do(http.MethodPost, "/api/v1/tenant/users",
		map[string]string{"email": "viewer@acme.test", "password": "s3cret-pw", "role": "viewer"},
		withTenantAndToken("acme", pair.AccessToken))
	s.Require().Equal(http.StatusCreated, created.Code, created.Body.String())

	viewerPair := s.login("acme", "viewer@acme.test", "s3cret-pw")
	rec := s.do(http.MethodPost, "/api/v1/tenant/keys",
		map[string]string{"name": "nope", "role": "user"},
		withTenantAndToken("acme", viewerPair.AccessToken))
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *GatewaySuite) TestAdminSurface() {
	created := s.do(http.MethodPost, "/admin/v1/tenants",
		map[string]string{"slug": "initech", "name": "Initech", "plan": "starter", "database_url": "postgres://db-initech.internal/initech"},
		nil)
	s.Require().Equal(http.StatusCreated, created.Code, created.Body.String())

	var rec registry.TenantRecord
	s.decode(created, &rec)
	s.Equal("initech", rec.Slug.String())

	stats := s.do(http.MethodGet, "/admin/v1/tenants/stats", nil, nil)
	s.Require().Equal(http.StatusOK, stats.Code)

	var counts registry.Stats
	s.decode(stats, &counts)
	s.Equal(3, counts.Total)
	s.Equal(3, counts.Active)

	suspend := s.do(http.MethodPost, "/admin/v1/tenants/"+rec.ID.String()+"/suspend", nil, nil)
	s.Require().Equal(http.StatusOK, suspend.Code, suspend.Body.String())

	gone := s.do(http.MethodGet, "/api/v1/tenant/info", nil, func(r *http.Request) {
		r.Header.Set(resolver.HeaderTenantSlug, "initech")
	})
	s.Equal(http.StatusNotFound, gone.Code)
}
