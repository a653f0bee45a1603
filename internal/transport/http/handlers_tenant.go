package http

import (
	"net/http"

	"tenantgate/internal/registry"
	"tenantgate/internal/resolver"
	"tenantgate/internal/transport/http/json"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

// tenantInfoResponse is the public view of the current tenant. Connection
// targets and key references never appear here.
type tenantInfoResponse struct {
	ID     id.TenantID     `json:"id"`
	Slug   id.Slug         `json:"slug"`
	Name   string          `json:"name"`
	Plan   string          `json:"plan"`
	Status string          `json:"status"`
	Domain string          `json:"domain,omitempty"`
	Limits registry.Limits `json:"limits"`
}

func (h *Handler) handleTenantInfo(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	rec, err := h.registry.LookupByID(r.Context(), tenant.ID)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, tenantInfoResponse{
		ID:     rec.ID,
		Slug:   rec.Slug,
		Name:   rec.Name,
		Plan:   string(rec.Plan),
		Status: string(rec.Status),
		Domain: rec.Domain,
		Limits: registry.LimitsFor(rec.Plan),
	})
}

func (h *Handler) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	report, err := h.quota.Usage(r.Context(), tenant)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, report)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	req, ok := json.Decode[createUserRequest](w, r, h.logger)
	if !ok {
		return
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	user, err := h.auth.CreateUser(r.Context(), tenant, req.Email, req.Password, role)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusCreated, user)
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type createAPIKeyResponse struct {
	// Key is the full secret, returned exactly once.
	Key   string      `json:"key"`
	KeyID id.APIKeyID `json:"key_id"`
	Name  string      `json:"name"`
	Role  string      `json:"role"`
}

func (h *Handler) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	req, ok := json.Decode[createAPIKeyRequest](w, r, h.logger)
	if !ok {
		return
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	full, rec, err := h.auth.CreateAPIKey(r.Context(), tenant, req.Name, role)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusCreated, createAPIKeyResponse{
		Key:   full,
		KeyID: rec.KeyID,
		Name:  rec.Name,
		Role:  rec.Role.String(),
	})
}

func (h *Handler) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	keys, err := h.auth.ListAPIKeys(r.Context(), tenant)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, keys)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	entries, err := h.auditStore.ListByTenant(r.Context(), tenant.ID)
	if err != nil {
		json.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "audit trail unavailable"))
		return
	}
	json.WriteJSON(w, http.StatusOK, entries)
}
