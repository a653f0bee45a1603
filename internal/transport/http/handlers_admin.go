package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tenantgate/internal/registry"
	"tenantgate/internal/transport/http/json"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
)

func (h *Handler) handleAdminListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.registry.List(r.Context())
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, tenants)
}

type createTenantRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Plan        string `json:"plan"`
	DatabaseURL string `json:"database_url"`
}

func (h *Handler) handleAdminCreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := json.Decode[createTenantRequest](w, r, h.logger)
	if !ok {
		return
	}
	slug, err := id.ParseSlug(req.Slug)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	rec, err := h.registry.Create(r.Context(), slug, req.Name, registry.PlanTier(req.Plan), req.DatabaseURL)
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleAdminTenantStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.GetStats(r.Context())
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAdminSuspendTenant(w http.ResponseWriter, r *http.Request) {
	h.adminLifecycle(w, r, h.registry.Suspend)
}

func (h *Handler) handleAdminReactivateTenant(w http.ResponseWriter, r *http.Request) {
	h.adminLifecycle(w, r, h.registry.Reactivate)
}

func (h *Handler) handleAdminDeleteTenant(w http.ResponseWriter, r *http.Request) {
	h.adminLifecycle(w, r, h.registry.SoftDelete)
}

// adminLifecycle factors the shared shape of suspend/reactivate/delete.
func (h *Handler) adminLifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, id.TenantID) (*registry.TenantRecord, error)) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}
	rec, err := op(r.Context(), tenantID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, rec)
}

// writeRegistryError maps the registry's storage-level not-found onto the
// admin surface's 404. Unlike the tenant-facing pipeline there is nothing to
// hide here; admins may know which IDs exist.
func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		err = dErrors.New(dErrors.CodeNotFound, "tenant not found")
	}
	json.WriteError(w, err)
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

func (h *Handler) handleAdminChangePlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}
	req, ok := json.Decode[changePlanRequest](w, r, h.logger)
	if !ok {
		return
	}
	rec, err := h.registry.ChangePlan(r.Context(), tenantID, registry.PlanTier(req.Plan))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, rec)
}

type setDomainRequest struct {
	Domain string `json:"domain"`
}

func (h *Handler) handleAdminSetDomain(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathTenantID(w, r)
	if !ok {
		return
	}
	req, ok := json.Decode[setDomainRequest](w, r, h.logger)
	if !ok {
		return
	}
	rec, err := h.registry.SetDomain(r.Context(), tenantID, req.Domain)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAdminPoolStats(w http.ResponseWriter, r *http.Request) {
	json.WriteJSON(w, http.StatusOK, h.connrouter.StatsAll())
}

func pathTenantID(w http.ResponseWriter, r *http.Request) (id.TenantID, bool) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		json.WriteError(w, err)
		return id.TenantID{}, false
	}
	return tenantID, true
}
