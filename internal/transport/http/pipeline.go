// Package http wires the request pipeline: resolve tenant, authenticate,
// route to the tenant's resources, meter usage, audit. Handlers only ever see
// a request that already carries a tenant and a principal.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"tenantgate/internal/auth"
	"tenantgate/internal/platform/middleware"
	"tenantgate/internal/quota"
	"tenantgate/internal/resolver"
	"tenantgate/internal/transport/http/json"
	id "tenantgate/pkg/domain"
	dErrors "tenantgate/pkg/domain-errors"
	"tenantgate/pkg/secrets"
)

type principalKey struct{}

// PrincipalFrom returns the authenticated principal attached by RequireAuth.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// ResolveTenant runs tenant resolution and attaches the result to the request
// context. Unresolvable and unavailable tenants both terminate here.
func (h *Handler) ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, err := h.resolver.Resolve(r.Context(), r)
		if err != nil {
			json.WriteError(w, err)
			return
		}
		middleware.SetTenantSlug(r.Context(), ref.Slug.String())
		next.ServeHTTP(w, r.WithContext(resolver.WithTenant(r.Context(), ref)))
	})
}

// RequireAuth authenticates the request against the resolved tenant. Bearer
// JWTs and API keys are both accepted; either way the resulting principal is
// guaranteed to belong to the tenant in context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := resolver.TenantFrom(r.Context())
		if !ok {
			json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
			return
		}
		meta := requestMeta(r)

		var principal auth.Principal
		var err error
		switch {
		case r.Header.Get(resolver.HeaderAPIKey) != "":
			principal, err = h.auth.VerifyAPIKey(r.Context(), tenant, r.Header.Get(resolver.HeaderAPIKey), meta)
		default:
			token, ok := bearerToken(r)
			if !ok {
				json.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if secrets.IsAPIKey(token) {
				principal, err = h.auth.VerifyAPIKey(r.Context(), tenant, token, meta)
			} else {
				principal, err = h.auth.Authenticate(r.Context(), tenant, token, meta)
			}
		}
		if err != nil {
			json.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// RequireRole gates a subtree on a minimum role.
func (h *Handler) RequireRole(min id.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				json.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if err := h.auth.RequireRole(principal, min); err != nil {
				json.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Meter reserves quota units before the handler runs. Server-side failures
// return the units; anything the client caused stays spent.
func (h *Handler) Meter(metric quota.Metric, units int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := resolver.TenantFrom(r.Context())
			if !ok {
				json.WriteError(w, dErrors.New(dErrors.CodeInternal, "tenant missing from context"))
				return
			}
			res, err := h.quota.Reserve(r.Context(), tenant, metric, units)
			if err != nil {
				writeQuotaError(w, err)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				res.Release(r.Context())
				return
			}
			res.Commit()
		})
	}
}

// writeQuotaError renders quota denials with the numbers the caller needs to
// adjust; other errors fall through to the generic envelope.
func writeQuotaError(w http.ResponseWriter, err error) {
	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		json.WriteError(w, err)
		return
	}
	if retry := int(exceeded.RetryAfter.Seconds()); retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	json.WriteJSON(w, http.StatusTooManyRequests, quotaErrorEnvelope{
		Error:  string(dErrors.CodeQuotaExceeded),
		Metric: string(exceeded.Metric),
		Usage:  exceeded.Usage,
		Limit:  exceeded.Limit,
	})
}

type quotaErrorEnvelope struct {
	Error  string `json:"error"`
	Metric string `json:"metric"`
	Usage  int64  `json:"usage"`
	Limit  int64  `json:"limit"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func bearerToken(r *http.Request) (string, bool) {
	after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || after == "" {
		return "", false
	}
	return after, true
}

func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.RequestMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetRequestID(r.Context()),
	}
}
