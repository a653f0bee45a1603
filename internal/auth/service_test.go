package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tenantgate/internal/audit"
	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx context.Context

	users      *InMemoryUserStore
	refresh    *InMemoryRefreshTokenStore
	keys       *InMemoryAPIKeyStore
	auditStore *audit.InMemoryStore
	auditLog   *audit.Logger
	svc        *Service

	tenantA TenantRef
	tenantB TenantRef
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.users = NewInMemoryUserStore()
	s.refresh = NewInMemoryRefreshTokenStore()
	s.keys = NewInMemoryAPIKeyStore()
	s.auditStore = audit.NewInMemoryStore()
	s.auditLog = audit.NewLogger(s.auditStore, 64)

	tokens := NewTokenService("test-signing-key", "tenantgate-test", 15*time.Minute, 7*24*time.Hour)
	s.svc = New(s.users, s.refresh, s.keys, tokens, WithAudit(s.auditLog))

	s.tenantA = TenantRef{ID: id.NewTenantID(), Slug: "acme", Plan: registry.PlanBusiness}
	s.tenantB = TenantRef{ID: id.NewTenantID(), Slug: "globex", Plan: registry.PlanFree}
}

func (s *ServiceSuite) TearDownTest() {
	s.auditLog.Close()
}

func (s *ServiceSuite) mustCreateUser(tenant TenantRef, email, password string, role id.Role) *User {
	user, err := s.svc.CreateUser(s.ctx, tenant, email, password, role)
	s.Require().NoError(err)
	return user
}

// drainAudit closes the async logger and returns the tenant's trail.
func (s *ServiceSuite) drainAudit(tenantID id.TenantID) []audit.Entry {
	s.auditLog.Close()
	entries, err := s.auditStore.ListByTenant(s.ctx, tenantID)
	s.Require().NoError(err)
	return entries
}

func (s *ServiceSuite) TestLoginIssuesTenantBoundPair() {
	user := s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleAdmin)

	pair, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{IP: "10.0.0.1"})
	s.Require().NoError(err)
	s.Equal("Bearer", pair.TokenType)
	s.Equal(int64(900), pair.ExpiresIn)

	principal, err := s.svc.Authenticate(s.ctx, s.tenantA, pair.AccessToken, RequestMeta{})
	s.Require().NoError(err)
	s.Equal(user.ID, principal.ID)
	s.Equal(s.tenantA.ID, principal.TenantID)
	s.Equal(id.RoleAdmin, principal.Role)
	s.Equal(PrincipalUser, principal.Kind)
}

func (s *ServiceSuite) TestLoginWrongPasswordAndUnknownEmailLookAlike() {
	s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleUser)

	_, errWrong := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "bad-pw", RequestMeta{})
	_, errUnknown := s.svc.Login(s.ctx, s.tenantA, "nobody@acme.test", "bad-pw", RequestMeta{})

	s.True(dErrors.HasCode(errWrong, dErrors.CodeInvalidCredentials))
	s.True(dErrors.HasCode(errUnknown, dErrors.CodeInvalidCredentials))
	s.Equal(errWrong.Error(), errUnknown.Error(), "callers cannot distinguish the two failures")
}

func (s *ServiceSuite) TestLoginScopedToTenant() {
	// Same email exists on both tenants with different passwords.
	s.mustCreateUser(s.tenantA, "shared@example.test", "password-a", id.RoleUser)
	s.mustCreateUser(s.tenantB, "shared@example.test", "password-b", id.RoleUser)

	_, err := s.svc.Login(s.ctx, s.tenantA, "shared@example.test", "password-b", RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))

	_, err = s.svc.Login(s.ctx, s.tenantB, "shared@example.test", "password-b", RequestMeta{})
	s.NoError(err)
}

func (s *ServiceSuite) TestAuthenticateRejectsCrossTenantToken() {
	s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleAdmin)
	pair, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{})
	s.Require().NoError(err)

	// A token minted for tenant A presented against tenant B.
	_, err = s.svc.Authenticate(s.ctx, s.tenantB, pair.AccessToken, RequestMeta{IP: "10.0.0.9"})
	s.True(dErrors.HasCode(err, dErrors.CodeTenantMismatch))

	entries := s.drainAudit(s.tenantB.ID)
	s.Require().NotEmpty(entries)
	last := entries[len(entries)-1]
	s.Equal(audit.ActionTenantMismatch, last.Action)
	s.Equal(audit.OutcomeDenied, last.Outcome)
	s.True(last.Security, "cross-tenant presentation is a security event")
}

func (s *ServiceSuite) TestRefreshRotates() {
	user := s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleUser)
	pair, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{})
	s.Require().NoError(err)

	next, err := s.svc.Refresh(s.ctx, s.tenantA, pair.RefreshToken, RequestMeta{})
	s.Require().NoError(err)
	s.NotEqual(pair.RefreshToken, next.RefreshToken)

	principal, err := s.svc.Authenticate(s.ctx, s.tenantA, next.AccessToken, RequestMeta{})
	s.Require().NoError(err)
	s.Equal(user.ID, principal.ID)
}

func (s *ServiceSuite) TestRefreshReplayBurnsFamily() {
	s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleUser)
	pair, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{})
	s.Require().NoError(err)

	next, err := s.svc.Refresh(s.ctx, s.tenantA, pair.RefreshToken, RequestMeta{})
	s.Require().NoError(err)

	// Replaying the rotated token is rejected and burns the new one too.
	_, err = s.svc.Refresh(s.ctx, s.tenantA, pair.RefreshToken, RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))

	_, err = s.svc.Refresh(s.ctx, s.tenantA, next.RefreshToken, RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func (s *ServiceSuite) TestRefreshRejectsCrossTenant() {
	s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleUser)
	pair, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{})
	s.Require().NoError(err)

	_, err = s.svc.Refresh(s.ctx, s.tenantB, pair.RefreshToken, RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeTenantMismatch))
}

func (s *ServiceSuite) TestSuspensionRevokesOutstandingTokens() {
	s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleUser)
	pair, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{})
	s.Require().NoError(err)

	s.svc.OnTenantChange(registry.TenantRecord{
		ID:     s.tenantA.ID,
		Slug:   s.tenantA.Slug,
		Status: registry.TenantStatusSuspended,
	})

	_, err = s.svc.Refresh(s.ctx, s.tenantA, pair.RefreshToken, RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials),
		"a suspended tenant's refresh tokens are dead even if it is later reactivated")
}

func (s *ServiceSuite) TestAPIKeyVerify() {
	full, rec, err := s.svc.CreateAPIKey(s.ctx, s.tenantA, "ci-pipeline", id.RoleUser)
	s.Require().NoError(err)
	s.Require().NotEmpty(full)

	principal, err := s.svc.VerifyAPIKey(s.ctx, s.tenantA, full, RequestMeta{})
	s.Require().NoError(err)
	s.Equal(PrincipalService, principal.Kind)
	s.Equal(rec.KeyID, principal.KeyID)
	s.Equal(id.RoleUser, principal.Role)

	stored, err := s.keys.GetByKeyID(s.ctx, rec.KeyID)
	s.Require().NoError(err)
	s.NotNil(stored.LastUsedAt, "successful verification stamps last use")
}

func (s *ServiceSuite) TestAPIKeyCrossTenantIsMismatch() {
	full, _, err := s.svc.CreateAPIKey(s.ctx, s.tenantA, "ci-pipeline", id.RoleUser)
	s.Require().NoError(err)

	_, err = s.svc.VerifyAPIKey(s.ctx, s.tenantB, full, RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeTenantMismatch))
}

func (s *ServiceSuite) TestAPIKeyBadSecret() {
	full, rec, err := s.svc.CreateAPIKey(s.ctx, s.tenantA, "ci-pipeline", id.RoleUser)
	s.Require().NoError(err)
	_ = full

	_, err = s.svc.VerifyAPIKey(s.ctx, s.tenantA, string(rec.KeyID)+"_wrong-secret", RequestMeta{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func (s *ServiceSuite) TestTenantForKeyHintsWithoutSecretCheck() {
	full, _, err := s.svc.CreateAPIKey(s.ctx, s.tenantA, "ci-pipeline", id.RoleUser)
	s.Require().NoError(err)

	tenantID, err := s.svc.TenantForKey(s.ctx, full)
	s.Require().NoError(err)
	s.Equal(s.tenantA.ID, tenantID)

	_, err = s.svc.TenantForKey(s.ctx, "tgk_ffffffffffff_nope")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRequireRole() {
	p := Principal{Role: id.RoleUser}
	s.NoError(s.svc.RequireRole(p, id.RoleViewer))
	s.NoError(s.svc.RequireRole(p, id.RoleUser))

	err := s.svc.RequireRole(p, id.RoleAdmin)
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientRole))
}

func (s *ServiceSuite) TestCreateUserEnforcesPlanLimit() {
	for i := 0; i < 5; i++ {
		email := string(rune('a'+i)) + "@globex.test"
		s.mustCreateUser(s.tenantB, email, "s3cret-pw", id.RoleUser)
	}

	// Free plan allows 5 users.
	_, err := s.svc.CreateUser(s.ctx, s.tenantB, "overflow@globex.test", "s3cret-pw", id.RoleUser)
	s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))
}

func (s *ServiceSuite) TestLoginAuditTrail() {
	user := s.mustCreateUser(s.tenantA, "alice@acme.test", "s3cret-pw", id.RoleUser)

	_, err := s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "bad-pw", RequestMeta{IP: "10.0.0.1"})
	s.Require().Error(err)
	_, err = s.svc.Login(s.ctx, s.tenantA, "alice@acme.test", "s3cret-pw", RequestMeta{IP: "10.0.0.1"})
	s.Require().NoError(err)

	entries := s.drainAudit(s.tenantA.ID)
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionLoginFailed, entries[0].Action)
	s.Equal(audit.OutcomeFailure, entries[0].Outcome)
	s.Equal(audit.ActionLogin, entries[1].Action)
	s.Equal(user.ID.String(), entries[1].Actor)
	s.Equal("10.0.0.1", entries[1].IP)
}
