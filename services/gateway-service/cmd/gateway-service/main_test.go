package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/auth"
)

const secret = "test-secret"

func token(t *testing.T, role, companyID string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims("user-1", role, companyID, "", time.Now(), time.Hour), secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	return tok
}

// echoBackends record which backend got the request and the identity it saw.
func echoBackends(hit *string, seen *http.Header) map[string]http.Handler {
	out := map[string]http.Handler{}
	for name := range backendDefaults {
		name := name
		out[name] = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*hit = name
			*seen = r.Header.Clone()
			w.WriteHeader(http.StatusOK)
		})
	}
	return out
}

func TestRequireRole(t *testing.T) {
	h := requireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), auth.RoleEmployer, auth.RoleSuperAdmin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set(auth.HeaderRole, auth.RoleEmployee)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqOK.Header.Set(auth.HeaderRole, auth.RoleEmployer)
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}
}

func TestRequireAuthSetsPrincipalHeaders(t *testing.T) {
	var got http.Header
	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}), auth.Verifier{Secret: secret})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/v1/me/entitlement", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleEmployee, "c-1"))
	req.Header.Set(auth.HeaderRestaurantID, "forged")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if got.Get(auth.HeaderUserID) != "user-1" || got.Get(auth.HeaderRole) != auth.RoleEmployee || got.Get(auth.HeaderCompanyID) != "c-1" {
		t.Fatalf("unexpected principal headers: %v", got)
	}
	if got.Get(auth.HeaderRestaurantID) != "" {
		t.Fatal("client supplied restaurant header survived")
	}

	bad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	bad.Header.Set("Authorization", "Bearer "+token(t, auth.RoleEmployee, "c-1")+"x")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, bad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("tampered token: expected 401, got %d", rwBad.Code)
	}
}

func TestRouteTable(t *testing.T) {
	var hit string
	var seen http.Header
	mux := http.NewServeMux()
	registerRoutes(mux, echoBackends(&hit, &seen), auth.Verifier{Secret: secret})

	cases := []struct {
		method, path, role string
		wantCode           int
		wantBackend        string
	}{
		{http.MethodPost, "/v1/auth/login", "", http.StatusOK, "auth"},
		{http.MethodGet, "/.well-known/jwks.json", "", http.StatusOK, "auth"},
		{http.MethodGet, "/v1/auth/me", "", http.StatusUnauthorized, ""},
		{http.MethodGet, "/v1/auth/me", auth.RoleEmployee, http.StatusOK, "auth"},
		{http.MethodGet, "/v1/restaurants/r1/status", auth.RoleEmployee, http.StatusOK, "restaurant"},
		{http.MethodPut, "/v1/admin/restaurants/r1/hours", auth.RoleEmployee, http.StatusForbidden, ""},
		{http.MethodPut, "/v1/admin/restaurants/r1/hours", auth.RoleRestaurantAdmin, http.StatusOK, "restaurant"},
		{http.MethodGet, "/v1/companies/c1", auth.RoleEmployee, http.StatusForbidden, ""},
		{http.MethodGet, "/v1/companies/c1", auth.RoleEmployer, http.StatusOK, "membership"},
		{http.MethodPost, "/v1/billing/webhook", "", http.StatusOK, "membership"},
		{http.MethodPost, "/v1/billing/webhook/local", "", http.StatusNotFound, ""},
		{http.MethodPost, "/v1/orders", auth.RoleEmployer, http.StatusForbidden, ""},
		{http.MethodPost, "/v1/orders", auth.RoleEmployee, http.StatusOK, "ordering"},
		{http.MethodGet, "/v1/me/restaurants", auth.RoleEmployee, http.StatusOK, "ordering"},
		{http.MethodGet, "/v1/employer/entitlements", auth.RoleEmployer, http.StatusOK, "ordering"},
		{http.MethodGet, "/v1/employer/stats", auth.RoleEmployer, http.StatusOK, "analytics"},
		{http.MethodGet, "/v1/employer/stats", auth.RoleEmployee, http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		hit = ""
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.role != "" {
			req.Header.Set("Authorization", "Bearer "+token(t, tc.role, "c1"))
		}
		rw := httptest.NewRecorder()
		mux.ServeHTTP(rw, req)
		if rw.Code != tc.wantCode || hit != tc.wantBackend {
			t.Fatalf("%s %s as %q: got %d via %q, want %d via %q", tc.method, tc.path, tc.role, rw.Code, hit, tc.wantCode, tc.wantBackend)
		}
	}
}

func TestPublicRoutesStripForgedIdentity(t *testing.T) {
	var hit string
	var seen http.Header
	mux := http.NewServeMux()
	registerRoutes(mux, echoBackends(&hit, &seen), auth.Verifier{Secret: secret})

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", nil)
	req.Header.Set(auth.HeaderRole, auth.RoleSuperAdmin)
	req.Header.Set(auth.HeaderUserID, "attacker")
	mux.ServeHTTP(httptest.NewRecorder(), req)
	if seen.Get(auth.HeaderRole) != "" || seen.Get(auth.HeaderUserID) != "" {
		t.Fatalf("forged headers reached the backend: %v", seen)
	}
}
