package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy configures WithCORS. Origins may be exact ("https://app.lunchpass.de"),
// a subdomain wildcard ("https://*.lunchpass.de") or "*".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSHeaders are the request headers the web and mobile clients send.
var DefaultCORSHeaders = []string{"Authorization", "Content-Type", "Idempotency-Key", RequestIDHeader}

// exposedHeaders are readable by browser clients on non-preflight responses.
var exposedHeaders = strings.Join([]string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}, ", ")

type originRule struct {
	any    bool
	exact  string
	scheme string
	suffix string
}

func (o originRule) match(origin string) bool {
	switch {
	case o.any:
		return true
	case o.exact != "":
		return strings.EqualFold(o.exact, origin)
	}
	rest, ok := cutPrefixFold(origin, o.scheme)
	if !ok {
		return false
	}
	// "*.x.de" matches "a.x.de" but not "x.de".
	return len(rest) > len(o.suffix) && strings.HasSuffix(strings.ToLower(rest), o.suffix)
}

func parseOrigins(values []string) []originRule {
	var rules []originRule
	for _, v := range normalizeList(values) {
		switch {
		case v == "*":
			rules = append(rules, originRule{any: true})
		case strings.Contains(v, "://*."):
			scheme, host, _ := strings.Cut(v, "://*")
			rules = append(rules, originRule{scheme: strings.ToLower(scheme) + "://", suffix: strings.ToLower(host)})
		default:
			rules = append(rules, originRule{exact: strings.TrimSuffix(v, "/")})
		}
	}
	return rules
}

// WithCORS answers preflights and decorates responses for allowed origins.
// Without allowed origins it is a no-op.
func WithCORS(cfg CORSPolicy) Middleware {
	rules := parseOrigins(cfg.AllowedOrigins)
	if len(rules) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := normalizeList(cfg.AllowedMethods)
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	}
	reqHeaders := normalizeList(cfg.AllowedHeaders)
	if len(reqHeaders) == 0 {
		reqHeaders = DefaultCORSHeaders
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(reqHeaders, ", ")
	maxAge := ""
	if secs := int(cfg.MaxAge / time.Second); secs > 0 {
		maxAge = strconv.Itoa(secs)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			rule, ok := firstMatch(rules, origin)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			// A credentialed response can never carry the literal "*".
			if rule.any && !cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				h.Set("Access-Control-Expose-Headers", exposedHeaders)
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func firstMatch(rules []originRule, origin string) (originRule, bool) {
	for _, rule := range rules {
		if rule.match(origin) {
			return rule, true
		}
	}
	return originRule{}, false
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
