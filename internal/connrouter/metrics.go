package connrouter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the connection router.
type Metrics struct {
	Acquires    *prometheus.CounterVec
	PoolsOpened prometheus.Counter
	PoolsClosed *prometheus.CounterVec
	PoolsLive   prometheus.Gauge
}

// NewMetrics creates and registers router metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Acquires: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_connrouter_acquires_total",
			Help: "Connection slot acquisitions by result",
		}, []string{"result"}),
		PoolsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_connrouter_pools_opened_total",
			Help: "Tenant pools created",
		}),
		PoolsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_connrouter_pools_closed_total",
			Help: "Tenant pools closed by reason",
		}, []string{"reason"}),
		PoolsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tenantgate_connrouter_pools_live",
			Help: "Tenant pools currently open",
		}),
	}
}

func (r *Router) countAcquire(result string) {
	if r.metrics != nil {
		r.metrics.Acquires.WithLabelValues(result).Inc()
	}
}
