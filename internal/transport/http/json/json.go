// Package json centralizes JSON request decoding and response encoding for
// the HTTP layer so error envelopes stay consistent across handlers.
package json

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	dErrors "tenantgate/pkg/domain-errors"
	httpErrors "tenantgate/pkg/http-errors"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorEnvelope is the wire shape for all error responses.
type ErrorEnvelope struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError translates a domain error into the generic wire envelope.
// Internal codes are generalized first so nothing tenant-revealing leaks.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := httpErrors.ToHTTPStatus(code)
	if httpErrors.Retryable(code) {
		w.Header().Set("Retry-After", strconv.Itoa(1))
	}
	WriteJSON(w, status, ErrorEnvelope{Error: httpErrors.PublicCode(code)})
}

// Decode decodes a JSON request body into the target type.
// On failure it writes a 400 envelope and returns false.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "failed to decode request body", "error", err)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}
