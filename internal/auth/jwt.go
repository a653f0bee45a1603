package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the JWT payload for both access and refresh tokens. The tenant ID
// is embedded so the gateway can enforce tenant binding without a lookup.
type Claims struct {
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService mints and validates HS256 tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service with the given signing key and TTLs.
func NewTokenService(signingKey, issuer string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// GenerateAccessToken mints an access token bound to the principal's tenant.
func (s *TokenService) GenerateAccessToken(principalID id.PrincipalID, tenantID id.TenantID, role id.Role) (string, error) {
	return s.generate(principalID, tenantID, role, tokenTypeAccess, s.accessTTL)
}

// GenerateRefreshToken mints a refresh token and returns it with its JTI so
// the caller can record it for rotation tracking.
func (s *TokenService) GenerateRefreshToken(principalID id.PrincipalID, tenantID id.TenantID) (token, jti string, expiresAt time.Time, err error) {
	jti, err = newJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := s.now().UTC()
	expiresAt = now.Add(s.refreshTTL)
	claims := Claims{
		TenantID:  tenantID.String(),
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not sign refresh token")
	}
	return token, jti, expiresAt, nil
}

func (s *TokenService) generate(principalID id.PrincipalID, tenantID id.TenantID, role id.Role, typ string, ttl time.Duration) (string, error) {
	jti, err := newJTI()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	claims := Claims{
		TenantID:  tenantID.String(),
		Role:      role.String(),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not sign token")
	}
	return signed, nil
}

// ValidateAccess parses and validates an access token. Expired or malformed
// tokens, and refresh tokens presented as access tokens, are rejected.
func (s *TokenService) ValidateAccess(tokenString string) (*Claims, error) {
	return s.validate(tokenString, tokenTypeAccess)
}

// ValidateRefresh parses and validates a refresh token.
func (s *TokenService) ValidateRefresh(tokenString string) (*Claims, error) {
	return s.validate(tokenString, tokenTypeRefresh)
}

func (s *TokenService) validate(tokenString, typ string) (*Claims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "empty token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeInvalidCredentials, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid token claims")
	}
	if claims.TokenType != typ {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "wrong token type")
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid token issuer")
	}
	return claims, nil
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate token id")
	}
	return hex.EncodeToString(b), nil
}
