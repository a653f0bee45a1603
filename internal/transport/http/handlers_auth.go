package http

import (
	"net/http"

	"tenantgate/internal/resolver"
	"tenantgate/internal/transport/http/json"
	dErrors "tenantgate/pkg/domain-errors"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	req, ok := json.Decode[loginRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		json.WriteError(w, dErrors.New(dErrors.CodeValidation, "email and password are required"))
		return
	}

	pair, err := h.auth.Login(r.Context(), tenant, req.Email, req.Password, requestMeta(r))
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tenant, ok := resolver.TenantFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
		return
	}
	req, ok := json.Decode[refreshRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.RefreshToken == "" {
		json.WriteError(w, dErrors.New(dErrors.CodeValidation, "refresh_token is required"))
		return
	}

	pair, err := h.auth.Refresh(r.Context(), tenant, req.RefreshToken, requestMeta(r))
	if err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		json.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing credentials"))
		return
	}
	if err := h.auth.Logout(r.Context(), principal.ID); err != nil {
		json.WriteError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
