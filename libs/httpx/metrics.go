package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/metrics"
)

// WithMetrics records request count and latency. route maps a request to a
// low-cardinality label; nil falls back to the first two path segments.
func WithMetrics(route func(*http.Request) string) Middleware {
	if route == nil {
		route = RoutePrefix
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncInFlight()
			defer metrics.DecInFlight()

			start := time.Now()
			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			metrics.ObserveHTTP(r.Method, route(r), strconv.Itoa(rec.code()), time.Since(start).Seconds())
		})
	}
}

// RoutePrefix keeps at most two path segments so ids never become label values.
func RoutePrefix(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}
