package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the quota enforcer.
type Metrics struct {
	Reservations *prometheus.CounterVec
}

// NewMetrics creates and registers quota metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Reservations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_quota_reservations_total",
			Help: "Quota reservations by metric and result",
		}, []string{"metric", "result"}),
	}
}
