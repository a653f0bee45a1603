package audit

import (
	"time"

	id "tenantgate/pkg/domain"
)

// ActorKind distinguishes who performed an audited action.
type ActorKind string

const (
	ActorUser    ActorKind = "user"
	ActorService ActorKind = "service" // API key holder
	ActorSystem  ActorKind = "system"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Common audit actions emitted by the pipeline.
const (
	ActionLogin           = "auth.login"
	ActionLoginFailed     = "auth.login_failed"
	ActionTokenRefreshed  = "auth.token_refreshed"
	ActionTokenRevoked    = "auth.tokens_revoked"
	ActionTenantMismatch  = "auth.tenant_mismatch" // always a security event
	ActionQuotaExceeded   = "quota.exceeded"
	ActionTenantSuspended = "tenant.suspended"
)

// Entry is an immutable record of a security-relevant or administrative
// action. Once appended it is never mutated or deleted; retention purges are
// an external concern and outlive the tenant record itself.
type Entry struct {
	ID       id.AuditID  `json:"id"`
	TenantID id.TenantID `json:"tenant_id"`

	// Seq orders entries per tenant; assigned by the store at append time.
	Seq int64 `json:"seq"`

	Time      time.Time `json:"time"`
	Actor     string    `json:"actor"` // principal ID, API key ID, or "system"
	ActorKind ActorKind `json:"actor_kind"`
	Action    string    `json:"action"`
	Outcome   Outcome   `json:"outcome"`

	// Security marks entries that represent isolation or credential
	// violations, so they can be routed to alerting.
	Security bool `json:"security,omitempty"`

	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
