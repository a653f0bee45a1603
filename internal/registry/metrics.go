package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the tenant registry.
type Metrics struct {
	Lookups         *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	TenantsCreated  prometheus.Counter
	TenantsSuspended prometheus.Counter
}

// NewMetrics creates and registers all registry metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_registry_lookups_total",
			Help: "Total registry lookups, labeled by result",
		}, []string{"result"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_registry_cache_hits_total",
			Help: "Registry lookups served from the TTL cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_registry_cache_misses_total",
			Help: "Registry lookups that went to the store",
		}),
		TenantsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_tenants_created_total",
			Help: "Total number of tenants created",
		}),
		TenantsSuspended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_tenants_suspended_total",
			Help: "Total number of tenant suspensions",
		}),
	}
}
