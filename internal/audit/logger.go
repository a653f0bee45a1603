// Package audit appends an immutable trail of security-relevant and
// administrative actions, tagged with tenant and actor identity.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "tenantgate/pkg/domain-errors"
)

// Metrics holds Prometheus metrics for the audit logger.
type Metrics struct {
	EntriesWritten prometheus.Counter
	WriteFailures  prometheus.Counter
	SecurityEvents prometheus.Counter
}

// NewMetrics creates and registers audit metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_audit_entries_total",
			Help: "Total audit entries persisted",
		}),
		WriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_audit_write_failures_total",
			Help: "Audit entries that failed to persist",
		}),
		SecurityEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_audit_security_events_total",
			Help: "Audit entries flagged as security events",
		}),
	}
}

// Logger records audit entries durably without ever failing the primary
// request: Record returns once the entry is queued for guaranteed
// persistence, and persistence failures surface on the internal Errors
// channel instead of propagating to the caller.
type Logger struct {
	store   Store
	entries chan Entry
	errs    chan error
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	closeOnce sync.Once
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets the slog logger used for write-failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// WithMetrics sets the audit metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates an audit logger draining into the given store.
// buffer bounds the write queue; Record blocks (rather than drops) when the
// queue is full so no entry is ever silently lost.
func NewLogger(store Store, buffer int, opts ...Option) *Logger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &Logger{
		store:   store,
		entries: make(chan Entry, buffer),
		errs:    make(chan error, buffer),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

// Record queues an entry for persistence. It never returns an error: audit
// failures degrade observability, never availability.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = l.now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = "system"
		entry.ActorKind = ActorSystem
	}
	select {
	case l.entries <- entry:
	case <-ctx.Done():
		// Caller aborted while the queue was full; persist from a detached
		// goroutine so the entry still reaches the store. Writing directly
		// keeps this path safe against a concurrent Close.
		go l.persist(entry)
	}
}

// Errors exposes persistence failures for internal monitoring. The channel
// is buffered; if nobody listens, failures are still logged and counted.
func (l *Logger) Errors() <-chan error {
	return l.errs
}

// Close stops accepting entries and waits for the queue to drain.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.entries)
		l.wg.Wait()
	})
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for entry := range l.entries {
		l.persist(entry)
	}
}

func (l *Logger) persist(entry Entry) {
	if err := l.store.Append(context.Background(), &entry); err != nil {
		wrapped := dErrors.Wrap(err, dErrors.CodeAuditWriteFailure, "failed to persist audit entry")
		if l.metrics != nil {
			l.metrics.WriteFailures.Inc()
		}
		if l.logger != nil {
			l.logger.Error("failed to persist audit entry",
				"error", err,
				"action", entry.Action,
				"tenant_id", entry.TenantID,
			)
		}
		select {
		case l.errs <- wrapped:
		default:
		}
		return
	}
	if l.metrics != nil {
		l.metrics.EntriesWritten.Inc()
		if entry.Security {
			l.metrics.SecurityEvents.Inc()
		}
	}
}
