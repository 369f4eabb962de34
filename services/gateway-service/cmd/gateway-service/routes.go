package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/md-rashed-zaman/lunchpass/libs/auth"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Access levels for a route.
const (
	accessPublic = iota
	accessAuthenticated
	accessRoles
)

type route struct {
	pattern string
	backend string
	access  int
	roles   []string
}

// A pattern ending in "/" matches its subtree; other patterns match exactly.
var routeTable = []route{
	{pattern: "/v1/auth/login", backend: "auth", access: accessPublic},
	{pattern: "/v1/auth/refresh", backend: "auth", access: accessPublic},
	{pattern: "/v1/auth/logout", backend: "auth", access: accessPublic},
	{pattern: "/.well-known/jwks.json", backend: "auth", access: accessPublic},
	{pattern: "/v1/auth/", backend: "auth", access: accessAuthenticated},

	{pattern: "/v1/restaurants", backend: "restaurant", access: accessAuthenticated},
	{pattern: "/v1/restaurants/", backend: "restaurant", access: accessAuthenticated},
	{pattern: "/v1/admin/restaurants", backend: "restaurant", access: accessRoles, roles: []string{auth.RoleRestaurantAdmin, auth.RoleSuperAdmin}},
	{pattern: "/v1/admin/restaurants/", backend: "restaurant", access: accessRoles, roles: []string{auth.RoleRestaurantAdmin, auth.RoleSuperAdmin}},

	{pattern: "/v1/plans", backend: "membership", access: accessAuthenticated},
	{pattern: "/v1/companies", backend: "membership", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
	{pattern: "/v1/companies/", backend: "membership", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
	{pattern: "/v1/memberships", backend: "membership", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
	{pattern: "/v1/memberships/", backend: "membership", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
	{pattern: "/v1/billing/checkout/", backend: "membership", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
	// Stripe reaches the webhook without a JWT; the signature is the auth.
	{pattern: "/v1/billing/webhook", backend: "membership", access: accessPublic},

	{pattern: "/v1/me/", backend: "ordering", access: accessRoles, roles: []string{auth.RoleEmployee}},
	{pattern: "/v1/orders", backend: "ordering", access: accessRoles, roles: []string{auth.RoleEmployee}},
	{pattern: "/v1/employer/entitlements", backend: "ordering", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
	{pattern: "/v1/employer/stats", backend: "analytics", access: accessRoles, roles: []string{auth.RoleEmployer, auth.RoleSuperAdmin}},
}

// registerRoutes mounts routeTable on mux. backends maps a backend name to a
// handler, usually a reverse proxy.
func registerRoutes(mux *http.ServeMux, backends map[string]http.Handler, verifier tokenVerifier) {
	for _, rt := range routeTable {
		h := backends[rt.backend]
		switch rt.access {
		case accessAuthenticated:
			h = requireAuth(h, verifier)
		case accessRoles:
			h = requireAuth(requireRole(h, rt.roles...), verifier)
		default:
			h = stripPrincipal(h)
		}
		mux.Handle(rt.pattern, h)
	}
}

func newProxy(raw string) (http.Handler, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	p := httputil.NewSingleHostReverseProxy(u)
	p.Transport = otelhttp.NewTransport(http.DefaultTransport)
	return p, nil
}

type tokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

func requireAuth(next http.Handler, verifier tokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil || !auth.ValidRole(claims.Role) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		claims.SetHeaders(r.Header)
		next.ServeHTTP(w, r)
	})
}

// requireRole runs after requireAuth, so X-Role is the verified one.
func requireRole(next http.Handler, allowed ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.PrincipalFromRequest(r).Is(allowed...) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// stripPrincipal keeps anonymous callers from forging identity headers on
// public routes.
func stripPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.StripPrincipalHeaders(r.Header)
		next.ServeHTTP(w, r)
	})
}
