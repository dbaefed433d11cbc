package http

import (
	"net/http"
	"strings"
	"time"
)

// MetricsMiddleware records request count and latency per endpoint.
// Probe and scrape paths are not counted.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := endpointLabel(r.URL.Path)
			if endpoint == "" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			metrics.RequestDuration.WithLabelValues(endpoint, r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, statusToLabel(rec.status)).Inc()
		})
	}
}

// endpointLabel keeps label cardinality fixed: approval ids never reach a label.
// An empty result means the request is not measured.
func endpointLabel(path string) string {
	switch {
	case path == "/metrics", path == "/healthz", path == "/readyz":
		return ""
	case path == "/v1/evaluate":
		return "evaluate"
	case strings.HasPrefix(path, "/v1/approvals/"):
		if strings.HasSuffix(path, "/approve") || strings.HasSuffix(path, "/deny") {
			return "resolve_approval"
		}
		return "get_approval"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func statusToLabel(code int) string {
	switch {
	case code < 400:
		return "ok"
	case code < 500:
		return "client_error"
	default:
		return "server_error"
	}
}
