package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"tenantgate/internal/audit"
	"tenantgate/internal/registry"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
	"tenantgate/pkg/secrets"
)

// Service authenticates principals and enforces tenant binding. Every
// credential it issues or verifies names exactly one tenant; a valid
// credential presented against a different tenant is rejected and recorded
// as a security event, never silently re-scoped.
type Service struct {
	users   UserStore
	refresh RefreshTokenStore
	keys    APIKeyStore
	tokens  *TokenService
	audit   *audit.Logger
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit logger for security and auth events.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the auth metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.tokens.now = now
	}
}

// New creates the auth gateway service.
func New(users UserStore, refresh RefreshTokenStore, keys APIKeyStore, tokens *TokenService, opts ...Option) *Service {
	s := &Service{
		users:   users,
		refresh: refresh,
		keys:    keys,
		tokens:  tokens,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies a password against the tenant-scoped user directory and
// issues a token pair bound to that tenant. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, tenant TenantRef, email, password string, meta RequestMeta) (TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, tenant.ID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a hash comparison so a missing account costs the same as
			// a wrong password.
			secrets.VerifyDummy(password)
			s.countLogin("failure")
			s.recordAuth(ctx, tenant.ID, email, audit.ActorUser, audit.ActionLoginFailed, audit.OutcomeFailure, false, meta)
			return TokenPair{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
		}
		return TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "user lookup failed")
	}

	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidCredentials) {
			s.countLogin("failure")
			s.recordAuth(ctx, tenant.ID, user.ID.String(), audit.ActorUser, audit.ActionLoginFailed, audit.OutcomeFailure, false, meta)
			return TokenPair{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
		}
		return TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, user.ID, tenant.ID, user.Role)
	if err != nil {
		return TokenPair{}, err
	}

	s.countLogin("success")
	s.recordAuth(ctx, tenant.ID, user.ID.String(), audit.ActorUser, audit.ActionLogin, audit.OutcomeSuccess, false, meta)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "user logged in", "tenant_id", tenant.ID, "user_id", user.ID)
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the old token.
// A replayed (already-rotated or revoked) token invalidates the principal's
// entire outstanding token family.
func (s *Service) Refresh(ctx context.Context, tenant TenantRef, refreshToken string, meta RequestMeta) (TokenPair, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		s.countRefresh("failure")
		return TokenPair{}, err
	}

	principalID, tokenTenant, err := parseSubjectTenant(claims)
	if err != nil {
		s.countRefresh("failure")
		return TokenPair{}, err
	}
	if tokenTenant != tenant.ID {
		return TokenPair{}, s.tenantMismatch(ctx, tenant.ID, principalID.String(), audit.ActorUser, meta)
	}

	rec, err := s.refresh.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.countRefresh("failure")
			return TokenPair{}, dErrors.New(dErrors.CodeInvalidCredentials, "unknown refresh token")
		}
		return TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "refresh token lookup failed")
	}
	if rec.Revoked {
		// Replay of a rotated token means the token leaked; burn the family.
		if _, err := s.refresh.RevokeByPrincipal(ctx, principalID); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to revoke token family", "error", err, "principal_id", principalID)
		}
		s.countRefresh("replay")
		s.recordAuth(ctx, tenant.ID, principalID.String(), audit.ActorUser, audit.ActionTokenRevoked, audit.OutcomeDenied, true, meta)
		return TokenPair{}, dErrors.New(dErrors.CodeInvalidCredentials, "refresh token reuse detected")
	}
	if rec.ExpiresAt.Before(s.now().UTC()) {
		s.countRefresh("failure")
		return TokenPair{}, dErrors.New(dErrors.CodeInvalidCredentials, "refresh token expired")
	}

	// Role can change between issuance and refresh; re-read it.
	user, err := s.users.GetByID(ctx, tenant.ID, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.countRefresh("failure")
			return TokenPair{}, dErrors.New(dErrors.CodeInvalidCredentials, "principal no longer exists")
		}
		return TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "user lookup failed")
	}

	if err := s.refresh.Revoke(ctx, claims.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not rotate refresh token")
	}

	pair, err := s.issuePair(ctx, user.ID, tenant.ID, user.Role)
	if err != nil {
		return TokenPair{}, err
	}

	s.countRefresh("success")
	s.recordAuth(ctx, tenant.ID, user.ID.String(), audit.ActorUser, audit.ActionTokenRefreshed, audit.OutcomeSuccess, false, meta)
	return pair, nil
}

// Authenticate validates an access token against the resolved tenant and
// returns the principal it represents. A token minted for another tenant
// fails with a tenant mismatch and raises a security audit event.
func (s *Service) Authenticate(ctx context.Context, tenant TenantRef, accessToken string, meta RequestMeta) (Principal, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return Principal{}, err
	}
	principalID, tokenTenant, err := parseSubjectTenant(claims)
	if err != nil {
		return Principal{}, err
	}
	if tokenTenant != tenant.ID {
		return Principal{}, s.tenantMismatch(ctx, tenant.ID, principalID.String(), audit.ActorUser, meta)
	}
	role, err := id.ParseRole(claims.Role)
	if err != nil {
		return Principal{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid token claims")
	}
	return Principal{
		ID:       principalID,
		TenantID: tokenTenant,
		Role:     role,
		Kind:     PrincipalUser,
	}, nil
}

// VerifyAPIKey authenticates a presented API key against the resolved tenant.
// The key's tenant binding is checked before the secret so a cross-tenant
// presentation is always surfaced as a mismatch, not a bad secret.
func (s *Service) VerifyAPIKey(ctx context.Context, tenant TenantRef, presented string, meta RequestMeta) (Principal, error) {
	keyID, secret, err := secrets.SplitAPIKey(presented)
	if err != nil {
		s.countAPIKey("malformed")
		return Principal{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid api key")
	}

	rec, err := s.keys.GetByKeyID(ctx, id.APIKeyID(keyID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same timing shape as a known key with a bad secret.
			secrets.VerifyDummy(secret)
			s.countAPIKey("unknown")
			return Principal{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid api key")
		}
		return Principal{}, dErrors.Wrap(err, dErrors.CodeInternal, "api key lookup failed")
	}

	if rec.TenantID != tenant.ID {
		s.countAPIKey("mismatch")
		return Principal{}, s.tenantMismatch(ctx, tenant.ID, string(rec.KeyID), audit.ActorService, meta)
	}
	if rec.Revoked {
		s.countAPIKey("revoked")
		return Principal{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid api key")
	}
	if err := secrets.Verify(secret, rec.SecretHash); err != nil {
		s.countAPIKey("bad_secret")
		return Principal{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid api key")
	}

	// Best effort; a failed touch never blocks an authenticated request.
	if err := s.keys.TouchLastUsed(ctx, rec.KeyID, s.now().UTC()); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to update api key last-used", "error", err, "key_id", rec.KeyID)
	}

	s.countAPIKey("success")
	return Principal{
		TenantID: rec.TenantID,
		Role:     rec.Role,
		Kind:     PrincipalService,
		KeyID:    rec.KeyID,
	}, nil
}

// TenantForKey maps a presented API key to its owning tenant without
// verifying the secret. The resolver uses this as a routing hint; full
// verification happens in VerifyAPIKey on the authenticated path.
func (s *Service) TenantForKey(ctx context.Context, presented string) (id.TenantID, error) {
	keyID, _, err := secrets.SplitAPIKey(presented)
	if err != nil {
		return id.TenantID{}, err
	}
	rec, err := s.keys.GetByKeyID(ctx, id.APIKeyID(keyID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return id.TenantID{}, dErrors.New(dErrors.CodeNotFound, "unknown api key")
		}
		return id.TenantID{}, dErrors.Wrap(err, dErrors.CodeInternal, "api key lookup failed")
	}
	if rec.Revoked {
		return id.TenantID{}, dErrors.New(dErrors.CodeNotFound, "unknown api key")
	}
	return rec.TenantID, nil
}

// RequireRole gates an operation on the principal's role.
func (s *Service) RequireRole(p Principal, min id.Role) error {
	if !p.Role.AtLeast(min) {
		return dErrors.New(dErrors.CodeInsufficientRole, "insufficient role")
	}
	return nil
}

// CreateUser registers a user under a tenant, enforcing the plan's user
// limit. The password is hashed here; callers pass plaintext exactly once.
func (s *Service) CreateUser(ctx context.Context, tenant TenantRef, email, password string, role id.Role) (*User, error) {
	count, err := s.users.CountByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "user count failed")
	}
	if count >= tenant.Limits().MaxUsers {
		return nil, dErrors.New(dErrors.CodeQuotaExceeded, "user limit reached for plan")
	}

	hash, err := secrets.Hash(password)
	if err != nil {
		return nil, err
	}
	user, err := NewUser(tenant.ID, email, hash, role, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "user created", "tenant_id", tenant.ID, "user_id", user.ID, "role", user.Role)
	}
	return user, nil
}

// CreateAPIKey issues a new tenant API key. The full key is returned exactly
// once; only the hash of its secret part is stored.
func (s *Service) CreateAPIKey(ctx context.Context, tenant TenantRef, name string, role id.Role) (string, *APIKeyRecord, error) {
	if !role.IsValid() {
		return "", nil, dErrors.New(dErrors.CodeValidation, "unknown role")
	}
	full, keyID, secret, err := secrets.GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}
	hash, err := secrets.Hash(secret)
	if err != nil {
		return "", nil, err
	}
	rec := &APIKeyRecord{
		KeyID:      id.APIKeyID(keyID),
		TenantID:   tenant.ID,
		Name:       name,
		SecretHash: hash,
		Role:       role,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.keys.Create(ctx, rec); err != nil {
		return "", nil, err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "api key created", "tenant_id", tenant.ID, "key_id", rec.KeyID)
	}
	return full, rec, nil
}

// ListAPIKeys returns a tenant's key records (hashes excluded by marshaling).
func (s *Service) ListAPIKeys(ctx context.Context, tenant TenantRef) ([]APIKeyRecord, error) {
	keys, err := s.keys.ListByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "api key list failed")
	}
	return keys, nil
}

// Logout revokes all of a principal's outstanding refresh tokens.
func (s *Service) Logout(ctx context.Context, principalID id.PrincipalID) error {
	n, err := s.refresh.RevokeByPrincipal(ctx, principalID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not revoke tokens")
	}
	if s.metrics != nil {
		s.metrics.TokensRevoked.Add(float64(n))
	}
	return nil
}

// OnTenantChange reacts to registry change events. Suspension or deletion
// revokes every outstanding refresh token for the tenant so sessions cannot
// outlive the tenant's availability.
func (s *Service) OnTenantChange(rec registry.TenantRecord) {
	if rec.IsActive() {
		return
	}
	ctx := context.Background()
	n, err := s.refresh.RevokeByTenant(ctx, rec.ID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to revoke tenant tokens", "error", err, "tenant_id", rec.ID)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.TokensRevoked.Add(float64(n))
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Entry{
			TenantID: rec.ID,
			Action:   audit.ActionTenantSuspended,
			Outcome:  audit.OutcomeSuccess,
			Metadata: map[string]string{"tokens_revoked": strconv.Itoa(n), "status": string(rec.Status)},
		})
	}
	if s.logger != nil {
		s.logger.Warn("tenant tokens revoked", "tenant_id", rec.ID, "count", n, "status", rec.Status)
	}
}

func (s *Service) issuePair(ctx context.Context, principalID id.PrincipalID, tenantID id.TenantID, role id.Role) (TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(principalID, tenantID, role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, jti, expiresAt, err := s.tokens.GenerateRefreshToken(principalID, tenantID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Save(ctx, &RefreshTokenRecord{
		JTI:         jti,
		PrincipalID: principalID,
		TenantID:    tenantID,
		ExpiresAt:   expiresAt,
		CreatedAt:   s.now().UTC(),
	}); err != nil {
		return TokenPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not persist refresh token")
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// tenantMismatch records the security event and returns the canonical error.
func (s *Service) tenantMismatch(ctx context.Context, tenantID id.TenantID, actor string, kind audit.ActorKind, meta RequestMeta) error {
	if s.metrics != nil {
		s.metrics.TenantMismatches.Inc()
	}
	s.recordAuth(ctx, tenantID, actor, kind, audit.ActionTenantMismatch, audit.OutcomeDenied, true, meta)
	if s.logger != nil {
		s.logger.WarnContext(ctx, "credential bound to different tenant", "tenant_id", tenantID, "actor", actor)
	}
	return dErrors.New(dErrors.CodeTenantMismatch, "credential does not belong to this tenant")
}

func (s *Service) recordAuth(ctx context.Context, tenantID id.TenantID, actor string, kind audit.ActorKind, action string, outcome audit.Outcome, security bool, meta RequestMeta) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Entry{
		TenantID:  tenantID,
		Actor:     actor,
		ActorKind: kind,
		Action:    action,
		Outcome:   outcome,
		Security:  security,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
	})
}

func (s *Service) countLogin(result string) {
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues(result).Inc()
	}
}

func (s *Service) countRefresh(result string) {
	if s.metrics != nil {
		s.metrics.TokenRefreshes.WithLabelValues(result).Inc()
	}
}

func (s *Service) countAPIKey(result string) {
	if s.metrics != nil {
		s.metrics.APIKeyChecks.WithLabelValues(result).Inc()
	}
}

func parseSubjectTenant(claims *Claims) (id.PrincipalID, id.TenantID, error) {
	principalID, err := id.ParsePrincipalID(claims.Subject)
	if err != nil {
		return id.PrincipalID{}, id.TenantID{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid token claims")
	}
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return id.PrincipalID{}, id.TenantID{}, dErrors.New(dErrors.CodeInvalidCredentials, "invalid token claims")
	}
	return principalID, tenantID, nil
}
