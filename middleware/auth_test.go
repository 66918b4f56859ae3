package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nodequota/ratelimit/middleware"
)

func TestAdminAuthRejectsMissingCredential(t *testing.T) {
	auth := middleware.NewAdminAuth("Authorization", "secret-key")
	called := false
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/cluster/ring", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatal("expected handler not to be called without a credential")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminAuthRejectsWrongCredential(t *testing.T) {
	auth := middleware.NewAdminAuth("Authorization", "secret-key")
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cluster/ring", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminAuthAcceptsBearerPrefixedCredential(t *testing.T) {
	auth := middleware.NewAdminAuth("Authorization", "secret-key")
	called := false
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/cluster/ring", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be called with a valid bearer credential")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminAuthAcceptsRawCredential(t *testing.T) {
	auth := middleware.NewAdminAuth("X-Admin-Key", "secret-key")
	called := false
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/cluster/ring", nil)
	req.Header.Set("X-Admin-Key", "secret-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be called with a raw matching credential")
	}
}

func TestAdminAuthRejectsWhenNoKeyConfigured(t *testing.T) {
	auth := middleware.NewAdminAuth("Authorization", "")
	h := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cluster/ring", nil)
	req.Header.Set("Authorization", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no admin key is configured, got %d", rec.Code)
	}
}
