package auth

import (
	"net/http"
	"strings"
)

// Headers the gateway sets from verified claims. Backends trust them only
// because the gateway strips client-supplied copies.
const (
	HeaderUserID       = "X-User-Id"
	HeaderRole         = "X-Role"
	HeaderCompanyID    = "X-Company-Id"
	HeaderRestaurantID = "X-Restaurant-Id"
)

var principalHeaders = []string{HeaderUserID, HeaderRole, HeaderCompanyID, HeaderRestaurantID}

// Principal is the caller identity as seen by a backend service.
type Principal struct {
	UserID       string
	Role         string
	CompanyID    string
	RestaurantID string
}

func PrincipalFromRequest(r *http.Request) Principal {
	return Principal{
		UserID:       strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role:         strings.TrimSpace(r.Header.Get(HeaderRole)),
		CompanyID:    strings.TrimSpace(r.Header.Get(HeaderCompanyID)),
		RestaurantID: strings.TrimSpace(r.Header.Get(HeaderRestaurantID)),
	}
}

// SetHeaders replaces any principal headers on h with those derived from c.
func (c *Claims) SetHeaders(h http.Header) {
	StripPrincipalHeaders(h)
	h.Set(HeaderUserID, c.Subject)
	h.Set(HeaderRole, c.Role)
	if c.CompanyID != "" {
		h.Set(HeaderCompanyID, c.CompanyID)
	}
	if c.RestaurantID != "" {
		h.Set(HeaderRestaurantID, c.RestaurantID)
	}
}

func StripPrincipalHeaders(h http.Header) {
	for _, k := range principalHeaders {
		h.Del(k)
	}
}

func (p Principal) Is(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// CanManageCompany allows super admins everywhere and employers in their own company.
func (p Principal) CanManageCompany(companyID string) bool {
	if p.Role == RoleSuperAdmin {
		return true
	}
	return p.Role == RoleEmployer && p.CompanyID != "" && p.CompanyID == companyID
}

// CanManageRestaurant allows super admins everywhere and restaurant admins on their own restaurant.
func (p Principal) CanManageRestaurant(restaurantID string) bool {
	if p.Role == RoleSuperAdmin {
		return true
	}
	return p.Role == RoleRestaurantAdmin && p.RestaurantID != "" && p.RestaurantID == restaurantID
}
