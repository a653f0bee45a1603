package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tenantgate/internal/audit"
	"tenantgate/internal/registry"
	dErrors "tenantgate/pkg/domain-errors"
)

// Enforcer meters usage against plan limits. The reserve protocol is
// increment-first: a reservation takes its units before the work happens, and
// a reservation that would cross the limit is rolled back and rejected, so N
// concurrent requests can never admit more than the limit allows.
type Enforcer struct {
	store   Store
	period  time.Duration
	audit   *audit.Logger
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithAudit sets the audit logger for quota denial events.
func WithAudit(a *audit.Logger) Option {
	return func(e *Enforcer) { e.audit = a }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) { e.logger = logger }
}

// WithMetrics sets the quota metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(e *Enforcer) { e.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// New creates a quota enforcer. period is the accounting window for windowed
// metrics; counters reset at fixed UTC boundaries of that period.
func New(store Store, period time.Duration, opts ...Option) *Enforcer {
	if period <= 0 {
		period = 24 * time.Hour
	}
	e := &Enforcer{
		store:  store,
		period: period,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reservation holds units taken from a tenant's quota. Exactly one of Commit
// or Release settles it; Commit keeps the units spent, Release returns them
// when the metered work did not happen. Both are idempotent.
type Reservation struct {
	enforcer *Enforcer
	key      string
	metric   Metric
	n        int64

	settleOnce sync.Once
}

// Commit keeps the reserved units.
func (r *Reservation) Commit() {
	r.settleOnce.Do(func() {})
}

// Release returns the reserved units to the tenant's budget.
func (r *Reservation) Release(ctx context.Context) {
	r.settleOnce.Do(func() {
		if _, err := r.enforcer.store.IncrBy(ctx, r.key, -r.n, 0); err != nil && r.enforcer.logger != nil {
			r.enforcer.logger.ErrorContext(ctx, "failed to release quota reservation",
				"error", err, "key", r.key, "units", r.n)
		}
	})
}

// Reserve takes n units of a metric from the tenant's budget, rejecting the
// request if it would exceed the plan limit. The returned reservation must be
// settled by the caller.
func (e *Enforcer) Reserve(ctx context.Context, tenant registry.TenantRef, metric Metric, n int64) (*Reservation, error) {
	if !metric.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown quota metric")
	}
	if n <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reservation must be positive")
	}

	limit := limitFor(metric, tenant.Limits())
	key, ttl := e.keyFor(tenant, metric)

	newVal, err := e.store.IncrBy(ctx, key, n, ttl)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "quota counter unavailable")
	}
	if limit > 0 && newVal > limit {
		// Roll the reservation back before rejecting so a denied request
		// consumes nothing.
		if _, rbErr := e.store.IncrBy(ctx, key, -n, 0); rbErr != nil && e.logger != nil {
			e.logger.ErrorContext(ctx, "failed to roll back quota reservation", "error", rbErr, "key", key)
		}
		usage := newVal - n
		e.countReserve(metric, "exceeded")
		e.recordExceeded(ctx, tenant, metric, usage, limit)
		return nil, newExceeded(metric, usage, limit, e.untilPeriodEnd(metric))
	}

	e.countReserve(metric, "granted")
	return &Reservation{enforcer: e, key: key, metric: metric, n: n}, nil
}

// Usage reports the tenant's consumption for the current period.
func (e *Enforcer) Usage(ctx context.Context, tenant registry.TenantRef) (UsageReport, error) {
	limits := tenant.Limits()
	periodStart := e.periodStart()
	report := UsageReport{
		TenantID:    tenant.ID.String(),
		Slug:        tenant.Slug.String(),
		Plan:        string(tenant.Plan),
		PeriodStart: periodStart,
		PeriodEnd:   periodStart.Add(e.period),
		Metrics:     make([]MetricUsage, 0, len(AllMetrics)),
	}
	for _, metric := range AllMetrics {
		key, _ := e.keyFor(tenant, metric)
		used, err := e.store.Get(ctx, key)
		if err != nil {
			return UsageReport{}, dErrors.Wrap(err, dErrors.CodeInternal, "quota counter unavailable")
		}
		limit := limitFor(metric, limits)
		row := MetricUsage{Metric: metric, Used: used, Limit: limit}
		if limit > 0 {
			row.Remaining = max(limit-used, 0)
			row.Percent = float64(used) / float64(limit) * 100
		}
		report.Metrics = append(report.Metrics, row)
	}
	return report, nil
}

// SetLevel pins an absolute metric (storage, seats) to a measured value.
// Level metrics are tracked by external reconciliation, not per-request
// reservations.
func (e *Enforcer) SetLevel(ctx context.Context, tenant registry.TenantRef, metric Metric, value int64) error {
	if metric.windowed() {
		return dErrors.New(dErrors.CodeInvalidInput, "metric is windowed, not a level")
	}
	key, _ := e.keyFor(tenant, metric)
	current, err := e.store.Get(ctx, key)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "quota counter unavailable")
	}
	if _, err := e.store.IncrBy(ctx, key, value-current, 0); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "quota counter unavailable")
	}
	return nil
}

func (e *Enforcer) periodStart() time.Time {
	return e.now().UTC().Truncate(e.period)
}

// untilPeriodEnd is how long a caller must wait for a windowed counter to
// reset. Level metrics never reset on their own.
func (e *Enforcer) untilPeriodEnd(metric Metric) time.Duration {
	if !metric.windowed() {
		return 0
	}
	return e.periodStart().Add(e.period).Sub(e.now().UTC())
}

// keyFor builds the counter key. Windowed metrics are keyed by period start
// so counters roll over at fixed UTC boundaries; level metrics share one key
// with no expiry.
func (e *Enforcer) keyFor(tenant registry.TenantRef, metric Metric) (string, time.Duration) {
	if metric.windowed() {
		start := e.periodStart()
		key := fmt.Sprintf("tenant:%s:quota:%s:%d", tenant.Slug, metric, start.Unix())
		return key, 2 * e.period
	}
	return fmt.Sprintf("tenant:%s:quota:%s", tenant.Slug, metric), 0
}

func (e *Enforcer) recordExceeded(ctx context.Context, tenant registry.TenantRef, metric Metric, usage, limit int64) {
	if e.logger != nil {
		e.logger.WarnContext(ctx, "quota exceeded",
			"tenant_id", tenant.ID, "slug", tenant.Slug, "metric", metric, "usage", usage, "limit", limit)
	}
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, audit.Entry{
		TenantID: tenant.ID,
		Action:   audit.ActionQuotaExceeded,
		Outcome:  audit.OutcomeDenied,
		Metadata: map[string]string{
			"metric": string(metric),
			"usage":  strconv.FormatInt(usage, 10),
			"limit":  strconv.FormatInt(limit, 10),
		},
	})
}

func (e *Enforcer) countReserve(metric Metric, result string) {
	if e.metrics != nil {
		e.metrics.Reservations.WithLabelValues(string(metric), result).Inc()
	}
}
