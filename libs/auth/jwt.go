package auth

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleEmployee        = "employee"
	RoleEmployer        = "employer"
	RoleRestaurantAdmin = "restaurant_admin"
	RoleSuperAdmin      = "super_admin"
)

// ValidRole reports whether role is one of the four known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleEmployee, RoleEmployer, RoleRestaurantAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Claims are carried by access tokens. Subject is the user id. CompanyID is set
// for employees and employers, RestaurantID for restaurant admins.
type Claims struct {
	Role         string `json:"role"`
	CompanyID    string `json:"company_id,omitempty"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims fills the registered timestamps from now and ttl.
func NewClaims(userID, role, companyID, restaurantID string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Role:         role,
		CompanyID:    companyID,
		RestaurantID: restaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

type Header struct {
	Alg string
	Kid string
}

// ParseHeader reads alg and kid without verifying the signature.
func ParseHeader(token string) (*Header, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, ErrInvalidToken
	}
	h := &Header{Alg: parsed.Method.Alg()}
	if kid, ok := parsed.Header["kid"].(string); ok {
		h.Kid = kid
	}
	return h, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte(secret))
}

func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	return tok.SignedString(key)
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, jwt.SigningMethodHS256.Alg(), func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func VerifyRS256(token string, pubKey crypto.PublicKey) (*Claims, error) {
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}
	return parse(token, jwt.SigningMethodRS256.Alg(), func(*jwt.Token) (any, error) {
		return rsaKey, nil
	})
}

func parse(token, alg string, keyFunc jwt.Keyfunc) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc, jwt.WithValidMethods([]string{alg}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// KeySource resolves RS256 verification keys by kid.
type KeySource interface {
	Get(kid string) (*rsa.PublicKey, error)
}

// Verifier accepts RS256 tokens whose kid resolves through Keys and, when
// Secret is set, HS256 tokens signed with it.
type Verifier struct {
	Secret string
	Keys   KeySource
}

func (v Verifier) Verify(token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	switch header.Alg {
	case jwt.SigningMethodRS256.Alg():
		if v.Keys == nil || header.Kid == "" {
			return nil, ErrInvalidToken
		}
		pub, err := v.Keys.Get(header.Kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return VerifyRS256(token, pub)
	case jwt.SigningMethodHS256.Alg():
		if v.Secret == "" {
			return nil, ErrInvalidToken
		}
		return ParseAndVerifyHS256(token, v.Secret)
	default:
		return nil, ErrInvalidToken
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
