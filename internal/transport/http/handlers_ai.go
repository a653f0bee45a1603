package http

import (
	"net/http"
	"time"

	"tenantgate/internal/resolver"
	"tenantgate/internal/transport/http/json"
	dErrors "tenantgate/pkg/domain-errors"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Tenant    string    `json:"tenant"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// handleGenerate is the metered workload endpoint. It leases a slot from the
// tenant's connection pool for the duration of the request so pool limits
// apply to real work, then echoes a canned completion.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	req, ok := json.Decode[generateRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Prompt == "" {
		json.WriteError(w, dErrors.New(dErrors.CodeValidation, "prompt is required"))
		return
	}

	handle, err := h.connrouter.Acquire(r.Context(), tenant)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	defer handle.Release()

	json.WriteJSON(w, http.StatusOK, generateResponse{
		Tenant:    tenant.Slug.String(),
		Output:    "generated response for: " + req.Prompt,
		CreatedAt: time.Now().UTC(),
	})
}
