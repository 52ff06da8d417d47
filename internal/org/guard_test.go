package org_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/noah-isme/backend-properti/internal/org"
)

func TestRequireMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler := org.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequirePresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(org.WithOrg(req.Context(), "org-123"))
	rec := httptest.NewRecorder()
	handler := org.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestResolverHeaderWins(t *testing.T) {
	r := org.NewResolver("", "properti.app", "")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Host = "meskel.properti.app"
	req.Header.Set("X-Org-ID", "explicit-org")
	if got := r.Resolve(req); got != "explicit-org" {
		t.Fatalf("expected header org, got %q", got)
	}
}

func TestResolverSubdomain(t *testing.T) {
	r := org.NewResolver("", "properti.app", "")
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Host = "meskel.properti.app:8080"
	if got := r.Resolve(req); got != "meskel" {
		t.Fatalf("expected subdomain org, got %q", got)
	}
}
