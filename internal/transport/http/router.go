package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenantgate/internal/audit"
	"tenantgate/internal/auth"
	"tenantgate/internal/connrouter"
	"tenantgate/internal/platform/health"
	"tenantgate/internal/platform/middleware"
	"tenantgate/internal/quota"
	"tenantgate/internal/registry"
	"tenantgate/internal/resolver"
	id "tenantgate/pkg/domain"
)

// Handler bundles the pipeline components behind the HTTP surface.
type Handler struct {
	registry   *registry.Service
	resolver   *resolver.Resolver
	auth       *auth.Service
	connrouter *connrouter.Router
	quota      *quota.Enforcer
	auditLog   *audit.Logger
	auditStore audit.Store
	logger     *slog.Logger
}

// Deps lists what the HTTP layer needs; main wires them once.
type Deps struct {
	Registry   *registry.Service
	Resolver   *resolver.Resolver
	Auth       *auth.Service
	ConnRouter *connrouter.Router
	Quota      *quota.Enforcer
	AuditLog   *audit.Logger
	AuditStore audit.Store
	Logger     *slog.Logger
	Health     *health.Handler
}

// NewRouter builds the full route tree.
func NewRouter(deps Deps) chi.Router {
	h := &Handler{
		registry:   deps.Registry,
		resolver:   deps.Resolver,
		auth:       deps.Auth,
		connrouter: deps.ConnRouter,
		quota:      deps.Quota,
		auditLog:   deps.AuditLog,
		auditStore: deps.AuditStore,
		logger:     deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.ResolveTenant)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.handleLogin)
			r.Post("/refresh", h.handleRefresh)
			r.With(h.RequireAuth).Post("/logout", h.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Use(h.Meter(quota.MetricAPICalls, 1))

			r.Route("/tenant", func(r chi.Router) {
				r.Get("/info", h.handleTenantInfo)
				r.Get("/usage", h.handleTenantUsage)

				r.Group(func(r chi.Router) {
					r.Use(h.RequireRole(id.RoleAdmin))
					r.Post("/users", h.handleCreateUser)
					r.Post("/keys", h.handleCreateAPIKey)
					r.Get("/keys", h.handleListAPIKeys)
					r.Get("/audit", h.handleAuditTrail)
				})
			})

			r.With(h.Meter(quota.MetricAIRequests, 1)).
				Post("/ai/generate", h.handleGenerate)
		})
	})

	// Platform administration is tenant-independent: it manages the catalog
	// itself and is expected to sit behind a private listener or gateway ACL.
	r.Route("/admin/v1", func(r chi.Router) {
		r.Get("/tenants", h.handleAdminListTenants)
		r.Post("/tenants", h.handleAdminCreateTenant)
		r.Get("/tenants/stats", h.handleAdminTenantStats)
		r.Post("/tenants/{tenantID}/suspend", h.handleAdminSuspendTenant)
		r.Post("/tenants/{tenantID}/reactivate", h.handleAdminReactivateTenant)
		r.Post("/tenants/{tenantID}/plan", h.handleAdminChangePlan)
		r.Post("/tenants/{tenantID}/domain", h.handleAdminSetDomain)
		r.Delete("/tenants/{tenantID}", h.handleAdminDeleteTenant)
		r.Get("/pools", h.handleAdminPoolStats)
	})

	return r
}
