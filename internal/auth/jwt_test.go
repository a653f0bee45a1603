package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

var (
	testPrincipal = id.NewPrincipalID()
	testTenant    = id.NewTenantID()
)

func newTestTokenService() *TokenService {
	return NewTokenService("test-signing-key", "tenantgate-test", 15*time.Minute, 7*24*time.Hour)
}

func Test_GenerateAccessToken_RoundTrip(t *testing.T) {
	svc := newTestTokenService()

	token, err := svc.GenerateAccessToken(testPrincipal, testTenant, id.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccess(token)
	require.NoError(t, err)
	assert.Equal(t, testPrincipal.String(), claims.Subject)
	assert.Equal(t, testTenant.String(), claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
	assert.NotEmpty(t, claims.ID, "access tokens carry a jti")
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateAccess_RejectsRefreshToken(t *testing.T) {
	svc := newTestTokenService()

	refresh, jti, _, err := svc.GenerateRefreshToken(testPrincipal, testTenant)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	_, err = svc.ValidateAccess(refresh)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func Test_ValidateRefresh_RejectsAccessToken(t *testing.T) {
	svc := newTestTokenService()

	access, err := svc.GenerateAccessToken(testPrincipal, testTenant, id.RoleUser)
	require.NoError(t, err)

	_, err = svc.ValidateRefresh(access)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func Test_ValidateAccess_Expired(t *testing.T) {
	svc := newTestTokenService()

	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }
	token, err := svc.GenerateAccessToken(testPrincipal, testTenant, id.RoleUser)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateAccess(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func Test_ValidateAccess_WrongKey(t *testing.T) {
	svc := newTestTokenService()
	other := NewTokenService("other-key", "tenantgate-test", 15*time.Minute, 7*24*time.Hour)

	token, err := svc.GenerateAccessToken(testPrincipal, testTenant, id.RoleUser)
	require.NoError(t, err)

	_, err = other.ValidateAccess(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func Test_ValidateAccess_WrongIssuer(t *testing.T) {
	minted := NewTokenService("test-signing-key", "someone-else", 15*time.Minute, time.Hour)
	svc := newTestTokenService()

	token, err := minted.GenerateAccessToken(testPrincipal, testTenant, id.RoleUser)
	require.NoError(t, err)

	_, err = svc.ValidateAccess(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}

func Test_ValidateAccess_Garbage(t *testing.T) {
	svc := newTestTokenService()
	_, err := svc.ValidateAccess("not-a-token")
	assert.Error(t, err)

	_, err = svc.ValidateAccess("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
}
