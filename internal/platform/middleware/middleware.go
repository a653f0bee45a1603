package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recovery recovers from panics and returns a 500 error, preventing server crashes.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID adds a unique request ID to the context and response headers.
// If the client provides an X-Request-ID header, it will be used; otherwise a new UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// tenantSlugHolder is installed into the context by Logger before the request
// runs. Resolution happens downstream of Logger, so the slug has to flow back
// up through a mutable cell rather than a plain context value.
type tenantSlugHolder struct {
	mu   sync.Mutex
	slug string
}

type tenantSlugKey struct{}

// SetTenantSlug records the resolved tenant for the current request so the
// request log line carries it. It is a no-op when no request logger is
// installed, which keeps handlers testable in isolation.
func SetTenantSlug(ctx context.Context, slug string) {
	if h, ok := ctx.Value(tenantSlugKey{}).(*tenantSlugHolder); ok {
		h.mu.Lock()
		h.slug = slug
		h.mu.Unlock()
	}
}

func tenantSlug(ctx context.Context) string {
	if h, ok := ctx.Value(tenantSlugKey{}).(*tenantSlugHolder); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.slug
	}
	return ""
}

// Logger logs HTTP requests with method, path, status code, duration, request
// ID, and the resolved tenant when the pipeline identified one.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(context.WithValue(r.Context(), tenantSlugKey{}, &tenantSlugHolder{}))

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", duration.Milliseconds(),
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if slug := tenantSlug(r.Context()); slug != "" {
				attrs = append(attrs, "tenant", slug)
			}
			logger.Info("http request", attrs...)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Timeout caps request handling time. The timeout body matches the JSON
// envelope the rest of the gateway speaks.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	body := `{"error":"timeout","error_description":"request exceeded the server's time budget"}`
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, body)
	}
}

// ContentTypeJSON validates that POST/PUT/PATCH requests have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "application/json" && ct != "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				w.Write([]byte(`{"error":"invalid_content_type","error_description":"Content-Type must be application/json"}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
