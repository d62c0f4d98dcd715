// Package middleware provides the HTTP middleware chain: principal
// injection, request IDs, request logging and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/contextkeys"
	"github.com/trovehq/trove/pkg/httputil"
	"github.com/trovehq/trove/pkg/observability"
)

// Principal header names. Authentication itself happens upstream (gateway
// or reverse proxy); the backend trusts these headers on its private
// listener and only turns them into an auth.Principal.
const (
	HeaderUser  = "X-Trove-User"
	HeaderAdmin = "X-Trove-Admin"
)

// Principal injects the authenticated principal from request headers.
// Requests without a user header are rejected with 401.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := r.Header.Get(HeaderUser)
		if username == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		principal := auth.Principal{
			Username:      username,
			IsGlobalAdmin: r.Header.Get(HeaderAdmin) == "true",
		}
		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID assigns each request a UUID, propagated via context and the
// X-Request-ID response header. An inbound X-Request-ID is kept.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := contextkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logging logs one line per request with method, path, status, duration
// and the request ID.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			log.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", contextkeys.RequestIDFrom(r.Context()),
			)
		})
	}
}

// Metrics records request counts and latencies per route template and
// status. The route label uses the mux path template so metrics do not
// explode on path parameters.
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if template, err := current.GetPathTemplate(); err == nil {
					route = template
				}
			}
			m.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
		})
	}
}

// Recover converts handler panics into 500 responses instead of killing
// the connection.
func Recover(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.ErrorContext(r.Context(), "handler panicked",
						"panic", rec, "path", r.URL.Path)
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
