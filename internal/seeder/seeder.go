// Package seeder populates in-memory stores with demo tenants and users so
// local runs work without any external infrastructure.
package seeder

import (
	"context"
	"fmt"
	"log/slog"

	"tenantgate/internal/auth"
	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
)

// Seeder creates demo data through the real services so every invariant the
// services enforce also holds for seeded data.
type Seeder struct {
	registry *registry.Service
	auth     *auth.Service
	logger   *slog.Logger
}

// New creates a seeder.
func New(reg *registry.Service, authSvc *auth.Service, logger *slog.Logger) *Seeder {
	return &Seeder{registry: reg, auth: authSvc, logger: logger}
}

// SeedAll creates the demo tenants, an admin user per tenant, and one API key.
func (s *Seeder) SeedAll(ctx context.Context) error {
	demoTenants := []struct {
		slug  id.Slug
		name  string
		plan  registry.PlanTier
		admin string
	}{
		{"acme", "Acme Corp", registry.PlanBusiness, "admin@acme.example"},
		{"globex", "Globex Corporation", registry.PlanStarter, "admin@globex.example"},
		{"initech", "Initech", registry.PlanFree, "admin@initech.example"},
	}

	for _, t := range demoTenants {
		rec, err := s.registry.Create(ctx, t.slug, t.name,
			t.plan, fmt.Sprintf("postgres://localhost:5432/tenant_%s", t.slug))
		if err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.slug, err)
		}

		user, err := s.auth.CreateUser(ctx, rec.Ref(), t.admin, "demo-password", id.RoleAdmin)
		if err != nil {
			return fmt.Errorf("seed admin for %s: %w", t.slug, err)
		}

		key, _, err := s.auth.CreateAPIKey(ctx, rec.Ref(), "demo", id.RoleUser)
		if err != nil {
			return fmt.Errorf("seed api key for %s: %w", t.slug, err)
		}

		// The key is printed once so local runs can use it; real deployments
		// never seed.
		s.logger.Info("seeded demo tenant",
			"slug", rec.Slug,
			"plan", rec.Plan,
			"admin", user.Email,
			"api_key", key,
		)
	}

	s.logger.Info("demo data seeded", "tenants", len(demoTenants))
	return nil
}
