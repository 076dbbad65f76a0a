package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bifrost-ai/bifrost/internal/telemetry"
)

// statusText caches "200".."599" so status labels never allocate per request.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

// metricsMiddleware records request counts, durations, and in-flight gauge.
// The path label uses the chi route pattern, not the raw URL, so cardinality
// stays bounded by the route table.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.ActiveRequests.Inc()
			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r)

			pattern := routePattern(r)
			status := sw.status
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)
			m.ActiveRequests.Dec()

			var label string
			if status >= 0 && status < len(statusText) {
				label = statusText[status]
			} else {
				label = strconv.Itoa(status)
			}
			m.RequestsTotal.WithLabelValues(r.Method, pattern, label).Inc()
			m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern returns the matched chi pattern. Unmatched requests collapse
// into a single "unmatched" label so scanners hitting random paths cannot
// inflate cardinality.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
