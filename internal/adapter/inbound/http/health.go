package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// readinessTimeout bounds every dependency ping.
const readinessTimeout = 2 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the JSON body of /healthz and /readyz.
type HealthResponse struct {
	OK      bool              `json:"ok"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports liveness and readiness.
type HealthChecker struct {
	deps    map[string]Pinger
	version string
}

// NewHealthChecker creates a HealthChecker. deps maps a component name
// ("store", "notifier") to its pinger; nil entries are skipped.
func NewHealthChecker(deps map[string]Pinger, version string) *HealthChecker {
	h := &HealthChecker{deps: make(map[string]Pinger, len(deps)), version: version}
	for name, p := range deps {
		if p != nil {
			h.deps[name] = p
		}
	}
	return h
}

// Check pings every dependency.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{OK: true, Checks: make(map[string]string, len(names)), Version: h.version}
	for _, name := range names {
		if err := h.deps[name].Ping(ctx); err != nil {
			resp.OK = false
			resp.Checks[name] = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}
	return resp
}

// LivenessHandler always answers 200 while the process serves requests.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, HealthResponse{OK: true, Version: h.version})
	})
}

// ReadinessHandler answers 503 when any dependency fails its ping.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, h.Check(r.Context()))
	})
}

func writeHealth(w http.ResponseWriter, health HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if health.OK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}
