package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentshield/agentshield/internal/adapter/outbound/memory"
	"github.com/agentshield/agentshield/internal/domain/auth"
	"github.com/agentshield/agentshield/internal/domain/policy"
	"github.com/agentshield/agentshield/internal/service"
)

const (
	adminKey  = "test-admin-key"
	readerKey = "test-reader-key"
	otherKey  = "test-other-tenant-key"
)

type apiEnv struct {
	tenant   string
	store    *memory.Store
	registry *prometheus.Registry
	api      *Server
	server   *httptest.Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIEnv(t *testing.T, waitTimeout time.Duration, opts ...Option) *apiEnv {
	t.Helper()

	env := &apiEnv{
		tenant:   uuid.NewString(),
		store:    memory.NewStore(),
		registry: prometheus.NewRegistry(),
	}
	if _, err := env.store.UpsertPolicy(context.Background(), env.tenant, policy.StarterPolicyName, true, policy.StarterDocument); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	authn, err := auth.NewAuthenticator([]auth.APIKey{
		{Name: "admin", TenantID: env.tenant, KeyHash: "sha256:" + auth.HashKey(adminKey), Scopes: []string{auth.ScopeAdmin}},
		{Name: "reader", TenantID: env.tenant, KeyHash: "sha256:" + auth.HashKey(readerKey)},
		{Name: "other", TenantID: uuid.NewString(), KeyHash: "sha256:" + auth.HashKey(otherKey), Scopes: []string{auth.ScopeAdmin}},
	})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	cfg := service.Config{ApprovalThreshold: 60, WaitTimeout: waitTimeout, PollInterval: 10 * time.Millisecond}
	logger := discardLogger()
	metrics := service.NewMetrics(env.registry)
	approvals := service.NewApprovalService(env.store, memory.NewNotifier(), cfg, logger, service.WithApprovalMetrics(metrics))
	evals := service.NewEvaluationService(env.store, approvals, cfg, logger, service.WithEvaluationMetrics(metrics))

	opts = append([]Option{
		WithLogger(logger),
		WithRegistry(env.registry),
		WithAllowedOrigins([]string{"http://localhost:3000"}),
	}, opts...)
	env.api = NewServer(evals, approvals, authn, opts...)

	env.server = httptest.NewServer(env.api.Handler())
	t.Cleanup(env.server.Close)
	return env
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (e *apiEnv) do(t *testing.T, method, path, apiKey string, body any, out any, headers ...string) *http.Response {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp
}

type hitJSON struct {
	Policy string `json:"policy"`
	Rule   string `json:"rule"`
	Effect string `json:"effect"`
}

type evaluateResponse struct {
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason"`
	RiskScore    int       `json:"risk_score"`
	RiskSignals  []string  `json:"risk_signals"`
	PolicyHits   []hitJSON `json:"policy_hits"`
	EvaluationID string    `json:"evaluation_id"`
	ApprovalID   *string   `json:"approval_id"`
}

type approvalResponse struct {
	ID           string  `json:"id"`
	EvaluationID string  `json:"evaluation_id"`
	Status       string  `json:"status"`
	Approver     *string `json:"approver"`
	Comment      *string `json:"comment"`
	CreatedAt    string  `json:"created_at"`
	ResolvedAt   *string `json:"resolved_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var shellBody = map[string]any{
	"action_type": "tool_call",
	"tool_name":   "shell",
	"tool_args":   map[string]any{"command": "rm -rf /tmp/build"},
}

var iamBody = map[string]any{
	"action_type":   "aws_api",
	"aws_service":   "iam",
	"aws_operation": "CreateAccessKey",
	"params":        map[string]any{"UserName": "ci"},
}
