package httpErrors

import (
	"net/http"

	dErrors "tenantgate/pkg/domain-errors"
)

// ToHTTPStatus maps domain error codes to HTTP status codes.
//
// Tenant resolution failures and unavailable (suspended/deleted) tenants
// deliberately map to the same 404 so the wire response never distinguishes
// "never existed" from "no longer reachable". The distinction survives only
// in logs and audit entries.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized, dErrors.CodeInvalidCredentials, dErrors.CodeTenantMismatch:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeInsufficientRole:
		return http.StatusForbidden
	case dErrors.CodeNotFound, dErrors.CodeTenantNotResolved, dErrors.CodeTenantUnavailable:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case dErrors.CodePoolExhausted:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicCode generalizes internal codes before they reach the caller.
// Anything that could reveal cross-tenant information is flattened.
func PublicCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeTenantNotResolved, dErrors.CodeTenantUnavailable:
		return "tenant_not_found"
	case dErrors.CodeTenantMismatch:
		// Mismatches read as a generic auth failure externally; internally
		// they are logged as security events.
		return string(dErrors.CodeUnauthorized)
	case dErrors.CodeAuditWriteFailure:
		return string(dErrors.CodeInternal)
	default:
		return string(code)
	}
}

// Retryable reports whether the caller should retry with backoff.
func Retryable(code dErrors.Code) bool {
	return code == dErrors.CodePoolExhausted || code == dErrors.CodeTimeout
}
