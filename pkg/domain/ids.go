// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"regexp"

	"github.com/google/uuid"

	dErrors "tenantgate/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing UserID where TenantID is expected.
type (
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	AuditID     uuid.UUID
)

// APIKeyID is the stable, non-secret prefix of an issued API key
// (e.g. "tgk_3f9a1c"). The secret part is never stored in clear.
type APIKeyID string

// Slug is the URL-friendly tenant identifier used in hosts, paths, and headers.
type Slug string

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ParseSlug validates tenant slugs at trust boundaries. Slugs appear in
// hostnames, so the grammar matches DNS label rules.
func ParseSlug(s string) (Slug, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tenant slug cannot be empty")
	}
	if !slugPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid tenant slug format")
	}
	return Slug(s), nil
}

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseTenantID(s string) (TenantID, error) {
	id, err := parseUUID(s, "tenant ID")
	return TenantID(id), err
}

func ParsePrincipalID(s string) (PrincipalID, error) {
	id, err := parseUUID(s, "principal ID")
	return PrincipalID(id), err
}

// NewTenantID generates a fresh random tenant identifier.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewPrincipalID generates a fresh random principal identifier.
func NewPrincipalID() PrincipalID { return PrincipalID(uuid.New()) }

// NewAuditID generates a fresh random audit entry identifier.
func NewAuditID() AuditID { return AuditID(uuid.New()) }

// String methods - for logging and debugging.

func (id TenantID) String() string    { return uuid.UUID(id).String() }
func (id PrincipalID) String() string { return uuid.UUID(id).String() }
func (id AuditID) String() string     { return uuid.UUID(id).String() }
func (id APIKeyID) String() string    { return string(id) }
func (s Slug) String() string         { return string(s) }

// Text marshaling - IDs travel as canonical UUID strings in JSON payloads
// and database parameters, not as raw byte arrays.

func (id TenantID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id PrincipalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AuditID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = TenantID(parsed)
	return nil
}

func (id *PrincipalID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = PrincipalID(parsed)
	return nil
}

func (id *AuditID) UnmarshalText(b []byte) error {
	parsed, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = AuditID(parsed)
	return nil
}

// IsNil checks - used for service-layer validation.

func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PrincipalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id APIKeyID) IsNil() bool    { return id == "" }
func (s Slug) IsEmpty() bool       { return s == "" }

// parseUUID is the shared validation logic.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
