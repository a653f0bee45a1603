package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the auth gateway.
type Metrics struct {
	Logins           *prometheus.CounterVec
	TokenRefreshes   *prometheus.CounterVec
	TenantMismatches prometheus.Counter
	APIKeyChecks     *prometheus.CounterVec
	TokensRevoked    prometheus.Counter
}

// NewMetrics creates and registers auth metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_auth_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		TokenRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_auth_token_refreshes_total",
			Help: "Refresh token exchanges by result",
		}, []string{"result"}),
		TenantMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_auth_tenant_mismatches_total",
			Help: "Credentials presented against a tenant they do not belong to",
		}),
		APIKeyChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_auth_api_key_checks_total",
			Help: "API key verifications by result",
		}, []string{"result"}),
		TokensRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_auth_tokens_revoked_total",
			Help: "Refresh tokens revoked by bulk revocation",
		}),
	}
}
