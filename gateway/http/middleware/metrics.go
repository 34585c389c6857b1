package middleware

import (
	"net/http"
	"time"

	"github.com/julienstroheker/hexagent/internal/metrics"
)

// Metrics records the count and latency of every request.
// A nil m passes requests through untouched.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrapResponseWriter(w)
			next.ServeHTTP(rw, r)
			m.ObserveRequest(r.Method, rw.statusCode, time.Since(start))
		})
	}
}
