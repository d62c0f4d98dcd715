package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trovehq/trove/pkg/auth"
	"github.com/trovehq/trove/pkg/contextkeys"
)

func TestPrincipal(t *testing.T) {
	var captured auth.Principal
	var ok bool
	handler := Principal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, ok = contextkeys.PrincipalFrom(r.Context())
	}))

	t.Run("injects principal from headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUser, "alice")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !ok || captured.Username != "alice" || captured.IsGlobalAdmin {
			t.Errorf("unexpected principal: %+v ok=%v", captured, ok)
		}
	})

	t.Run("admin header marks a global admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderUser, "root")
		req.Header.Set(HeaderAdmin, "true")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !captured.IsGlobalAdmin {
			t.Error("expected a global admin principal")
		}
	})

	t.Run("missing user header is 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRequestID(t *testing.T) {
	var fromCtx string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = contextkeys.RequestIDFrom(r.Context())
	}))

	t.Run("assigns a fresh id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		header := rec.Header().Get("X-Request-ID")
		if header == "" || header != fromCtx {
			t.Errorf("expected matching ids, header=%q ctx=%q", header, fromCtx)
		}
	})

	t.Run("keeps an inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "upstream-id")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if fromCtx != "upstream-id" {
			t.Errorf("expected the inbound id to be kept, got %q", fromCtx)
		}
	})
}
