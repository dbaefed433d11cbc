package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()
	handler := CORSMiddleware([]string{"http://localhost:3000/"})(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{name: "no origin", method: http.MethodPost, wantStatus: http.StatusOK},
		{name: "allowed origin", method: http.MethodPost, origin: "http://localhost:3000", wantStatus: http.StatusOK, wantAllow: "http://localhost:3000"},
		{name: "disallowed origin", method: http.MethodPost, origin: "https://evil.example", wantStatus: http.StatusForbidden},
		{name: "preflight", method: http.MethodOptions, origin: "http://localhost:3000", preflight: true, wantStatus: http.StatusNoContent, wantAllow: "http://localhost:3000"},
		{name: "disallowed preflight", method: http.MethodOptions, origin: "http://localhost:9999", preflight: true, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/evaluate", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.preflight && tt.wantStatus == http.StatusNoContent &&
				!strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
				t.Error("preflight should allow the Idempotency-Key header")
			}
		})
	}
}

func TestExtractRealIP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.2.3.4:5", want: "10.0.0.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 10.0.0.9 "}, remote: "1.2.3.4:5", want: "10.0.0.9"},
		{name: "remote addr", remote: "1.2.3.4:5", want: "1.2.3.4"},
		{name: "remote addr without port", remote: "1.2.3.4", want: "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractRealIP(req); got != tt.want {
				t.Errorf("extractRealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggerFromContext_Default(t *testing.T) {
	t.Parallel()
	if LoggerFromContext(context.Background()) == nil {
		t.Fatal("LoggerFromContext should fall back to slog.Default()")
	}
}

func TestAuthMiddleware_CountsFailures(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, time.Second)

	env.do(t, http.MethodPost, "/v1/evaluate", "wrong", map[string]any{"action_type": "other"}, nil)
	env.do(t, http.MethodPost, "/v1/evaluate", "", map[string]any{"action_type": "other"}, nil)

	mfs, err := env.registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if got := counterValue(mfs, "agentshield_http_auth_failures_total"); got != 2 {
		t.Errorf("auth_failures_total = %v, want 2", got)
	}
}

func TestMetricsMiddleware_RecordsRequests(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	status := http.StatusOK
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	for _, code := range []int{http.StatusOK, http.StatusConflict, http.StatusInternalServerError} {
		status = code
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil))
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	for label, want := range map[string]float64{"ok": 1, "client_error": 1, "server_error": 1} {
		if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("evaluate", http.MethodPost, label)); got != want {
			t.Errorf("requests_total{POST,%s} = %v, want %v", label, got, want)
		}
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("other", http.MethodGet, "ok")); got != 0 {
		t.Errorf("health probes should not be counted, got %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "agentshield_http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetHistogram().GetSampleCount() != 3 {
				t.Errorf("duration observations = %d, want 3", m.GetHistogram().GetSampleCount())
			}
		}
		return
	}
	t.Error("request_duration_seconds not registered")
}

func TestStatusToLabel(t *testing.T) {
	t.Parallel()
	tests := map[int]string{200: "ok", 204: "ok", 302: "ok", 400: "client_error", 409: "client_error", 500: "server_error", 503: "server_error"}
	for code, want := range tests {
		if got := statusToLabel(code); got != want {
			t.Errorf("statusToLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthChecker(t *testing.T) {
	t.Parallel()

	healthy := NewHealthChecker(map[string]Pinger{"store": stubPinger{}, "notifier": nil}, "1.2.3")
	got := healthy.Check(context.Background())
	if !got.OK || got.Checks["store"] != "ok" || got.Version != "1.2.3" {
		t.Errorf("healthy check = %+v", got)
	}
	if _, ok := got.Checks["notifier"]; ok {
		t.Error("nil pingers should be skipped")
	}

	broken := NewHealthChecker(map[string]Pinger{"store": stubPinger{err: errors.New("db down")}}, "")
	rec := httptest.NewRecorder()
	broken.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("readyz must not leak dependency errors")
	}

	rec = httptest.NewRecorder()
	broken.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 even when a dependency is down", rec.Code)
	}
}

func TestServer_ProbesAndMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t, time.Second, WithHealthChecker(NewHealthChecker(map[string]Pinger{"store": stubPinger{}}, "test")))

	var health HealthResponse
	if resp := env.do(t, http.MethodGet, "/readyz", "", nil, &health); resp.StatusCode != http.StatusOK || !health.OK {
		t.Errorf("readyz = %d %+v", resp.StatusCode, health)
	}

	env.do(t, http.MethodPost, "/v1/evaluate", readerKey, iamBody, nil)

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		`agentshield_http_requests_total{endpoint="evaluate",method="POST",status="ok"} 1`,
		`agentshield_evaluations_total{decision="DENY"} 1`,
	} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func counterValue(mfs []*dto.MetricFamily, name string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestEndpointLabel(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"/healthz":                "",
		"/metrics":                "",
		"/v1/evaluate":            "evaluate",
		"/v1/approvals/abc":       "get_approval",
		"/v1/approvals/abc/deny":  "resolve_approval",
		"/v1/approvals/x/approve": "resolve_approval",
		"/nope":                   "other",
	}
	for path, want := range tests {
		if got := endpointLabel(path); got != want {
			t.Errorf("endpointLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
