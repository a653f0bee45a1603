// Package quota meters per-tenant resource usage against plan limits and
// rejects work that would exceed them. Counting is reserve-then-settle so
// concurrent requests can never double-spend a limit.
package quota

import (
	"fmt"
	"time"

	"tenantgate/internal/registry"
	dErrors "tenantgate/pkg/domain-errors"
)

// Metric names a metered resource.
type Metric string

const (
	MetricAPICalls   Metric = "api_calls"
	MetricAIRequests Metric = "ai_requests"
	MetricStorageMB  Metric = "storage_mb"
	MetricUsers      Metric = "users"
)

// AllMetrics lists every metered resource in reporting order.
var AllMetrics = []Metric{MetricAPICalls, MetricAIRequests, MetricStorageMB, MetricUsers}

func (m Metric) IsValid() bool {
	switch m {
	case MetricAPICalls, MetricAIRequests, MetricStorageMB, MetricUsers:
		return true
	}
	return false
}

// windowed reports whether the metric resets each accounting period.
// Storage and seats are absolute levels, not rates.
func (m Metric) windowed() bool {
	return m == MetricAPICalls || m == MetricAIRequests
}

// limitFor maps a metric onto the plan limits.
func limitFor(m Metric, limits registry.Limits) int64 {
	switch m {
	case MetricAPICalls:
		return limits.MaxAPICallsPerDay
	case MetricAIRequests:
		return limits.MaxAIRequestsPerDay
	case MetricStorageMB:
		return limits.MaxStorageMB
	case MetricUsers:
		return limits.MaxUsers
	default:
		return 0
	}
}

// ExceededError reports a rejected reservation with the numbers the caller
// needs to render a useful response. RetryAfter is the time until the current
// window resets; zero for level metrics, where retrying does not help.
type ExceededError struct {
	Metric     Metric        `json:"metric"`
	Usage      int64         `json:"usage"`
	Limit      int64         `json:"limit"`
	RetryAfter time.Duration `json:"-"`
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: usage %d of %d", e.Metric, e.Usage, e.Limit)
}

// newExceeded wraps the payload in the canonical domain error code.
func newExceeded(metric Metric, usage, limit int64, retryAfter time.Duration) error {
	return &dErrors.Error{
		Code:    dErrors.CodeQuotaExceeded,
		Message: fmt.Sprintf("quota exceeded for %s", metric),
		Err:     &ExceededError{Metric: metric, Usage: usage, Limit: limit, RetryAfter: retryAfter},
	}
}

// MetricUsage is one row of a tenant's usage report.
type MetricUsage struct {
	Metric    Metric  `json:"metric"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Percent   float64 `json:"percent"`
}

// UsageReport summarizes a tenant's consumption for the current period.
type UsageReport struct {
	TenantID    string        `json:"tenant_id"`
	Slug        string        `json:"slug"`
	Plan        string        `json:"plan"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Metrics     []MetricUsage `json:"metrics"`
}
