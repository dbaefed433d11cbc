package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func decisionServer(t *testing.T, resp EvaluateResponse, seen func(*http.Request, EvaluateRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/evaluate" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var body EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if seen != nil {
			seen(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEvaluate_SendsRequest(t *testing.T) {
	var gotKey, gotIdem string
	var gotBody EvaluateRequest
	server := decisionServer(t, EvaluateResponse{Decision: DecisionAllow, Reason: "default:ALLOW", EvaluationID: "ev-1"},
		func(r *http.Request, body EvaluateRequest) {
			gotKey = r.Header.Get("X-Api-Key")
			gotIdem = r.Header.Get("Idempotency-Key")
			gotBody = body
		})

	c := New(WithBaseURL(server.URL+"/"), WithAPIKey("test-key"), WithActor("alice"), WithAgent("planner"))

	req := ToolCall("search", map[string]any{"q": "weather"})
	req.IdempotencyKey = "step-1"
	resp, err := c.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if resp.Decision != DecisionAllow || resp.EvaluationID != "ev-1" {
		t.Errorf("resp = %+v", resp)
	}
	if gotKey != "test-key" || gotIdem != "step-1" {
		t.Errorf("headers: api key %q, idempotency key %q", gotKey, gotIdem)
	}
	if gotBody.ActionType != ActionToolCall || gotBody.ToolName != "search" || gotBody.Actor != "alice" || gotBody.Agent != "planner" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestEvaluate_NoIdempotencyHeaderWhenBlank(t *testing.T) {
	var present atomic.Bool
	server := decisionServer(t, EvaluateResponse{Decision: DecisionAllow}, func(r *http.Request, _ EvaluateRequest) {
		_, ok := r.Header["Idempotency-Key"]
		present.Store(ok)
	})

	req := AWSCall("s3", "ListBuckets", nil)
	req.IdempotencyKey = "  "
	if _, err := New(WithBaseURL(server.URL)).Evaluate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if present.Load() {
		t.Error("blank idempotency key should not be sent")
	}
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name    string
		resp    EvaluateResponse
		wantRun bool
		check   func(t *testing.T, err error)
	}{
		{
			name:    "allow runs the action",
			resp:    EvaluateResponse{Decision: DecisionAllow},
			wantRun: true,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("err = %v", err)
				}
			},
		},
		{
			name: "deny blocks",
			resp: EvaluateResponse{Decision: DecisionDeny, Reason: "Dangerous IAM operation", RiskScore: 70, EvaluationID: "ev-2"},
			check: func(t *testing.T, err error) {
				var denied *DeniedError
				if !errors.Is(err, ErrDenied) || !errors.As(err, &denied) {
					t.Fatalf("err = %v, want *DeniedError", err)
				}
				if denied.Reason != "Dangerous IAM operation" || denied.RiskScore != 70 || denied.EvaluationID != "ev-2" {
					t.Errorf("denied = %+v", denied)
				}
			},
		},
		{
			name: "approval required blocks",
			resp: EvaluateResponse{Decision: DecisionRequireApproval, Reason: "IAM change requires approval", ApprovalID: strPtr("ap-1")},
			check: func(t *testing.T, err error) {
				var pending *ApprovalRequiredError
				if !errors.As(err, &pending) || pending.ApprovalID != "ap-1" {
					t.Fatalf("err = %v, want *ApprovalRequiredError{ap-1}", err)
				}
				if !errors.Is(err, ErrApprovalRequired) || errors.Is(err, ErrDenied) {
					t.Error("ApprovalRequiredError should match only ErrApprovalRequired")
				}
			},
		},
		{
			name: "unknown decision fails closed",
			resp: EvaluateResponse{Decision: "MAYBE"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrDenied) {
					t.Errorf("err = %v, want ErrDenied", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := decisionServer(t, tt.resp, nil)
			c := New(WithBaseURL(server.URL))

			ran := false
			err := c.Guard(context.Background(), AWSCall("iam", "CreateUser", nil), func(context.Context) error {
				ran = true
				return nil
			})
			if ran != tt.wantRun {
				t.Errorf("action ran = %v, want %v", ran, tt.wantRun)
			}
			tt.check(t, err)
		})
	}
}

func TestGuard_PropagatesActionError(t *testing.T) {
	server := decisionServer(t, EvaluateResponse{Decision: DecisionAllow}, nil)
	boom := errors.New("boom")

	err := New(WithBaseURL(server.URL)).Guard(context.Background(), ToolCall("search", nil), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want the action's error", err)
	}
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "http://" + addr
}

func TestGuard_Unreachable(t *testing.T) {
	base := closedAddr(t)

	ran := false
	action := func(context.Context) error { ran = true; return nil }

	err := New(WithBaseURL(base), WithTimeout(time.Second)).Guard(context.Background(), ToolCall("shell", nil), action)
	var unreachable *ServerUnreachableError
	if !errors.Is(err, ErrServerUnreachable) || !errors.As(err, &unreachable) {
		t.Fatalf("err = %v, want ServerUnreachableError", err)
	}
	if ran {
		t.Error("closed mode must not run the action")
	}

	if err := New(WithBaseURL(base), WithTimeout(time.Second), WithFailOpen()).Guard(context.Background(), ToolCall("shell", nil), action); err != nil {
		t.Fatalf("fail-open err = %v", err)
	}
	if !ran {
		t.Error("fail-open mode should run the action")
	}
}

func TestCheck(t *testing.T) {
	for decision, want := range map[Decision]bool{
		DecisionAllow:           true,
		DecisionDeny:            false,
		DecisionRequireApproval: false,
	} {
		server := decisionServer(t, EvaluateResponse{Decision: decision, ApprovalID: strPtr("ap")}, nil)
		got, err := New(WithBaseURL(server.URL)).Check(context.Background(), ToolCall("x", nil))
		if err != nil {
			t.Fatalf("%s: %v", decision, err)
		}
		if got != want {
			t.Errorf("Check(%s) = %v, want %v", decision, got, want)
		}
	}
}

func TestApprovals(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var resolveBody resolveRequest

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/approvals/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "ap-1" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Approval not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(Approval{ID: "ap-1", EvaluationID: "ev-1", Status: StatusPending, CreatedAt: created})
	})
	mux.HandleFunc("POST /v1/approvals/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&resolveBody)
		now := created.Add(time.Minute)
		_ = json.NewEncoder(w).Encode(Approval{ID: "ap-1", Status: StatusApproved, Approver: &resolveBody.Approver, Comment: resolveBody.Comment, CreatedAt: created, ResolvedAt: &now})
	})
	mux.HandleFunc("POST /v1/approvals/{id}/deny", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Approval already APPROVED"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(WithBaseURL(server.URL), WithAPIKey("k"))
	ctx := context.Background()

	ap, err := c.GetApproval(ctx, "ap-1")
	if err != nil {
		t.Fatal(err)
	}
	if ap.Status != StatusPending || !ap.CreatedAt.Equal(created) || ap.ResolvedAt != nil {
		t.Errorf("GetApproval = %+v", ap)
	}

	if _, err := c.GetApproval(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing approval err = %v, want ErrNotFound", err)
	}

	ap, err = c.Approve(ctx, "ap-1", "alice", strPtr("ship it"))
	if err != nil {
		t.Fatal(err)
	}
	if ap.Status != StatusApproved || resolveBody.Approver != "alice" || *resolveBody.Comment != "ship it" {
		t.Errorf("Approve = %+v, body %+v", ap, resolveBody)
	}

	_, err = c.Deny(ctx, "ap-1", "bob", nil)
	var apiErr *APIError
	if !errors.Is(err, ErrConflict) || !errors.As(err, &apiErr) || apiErr.Message != "Approval already APPROVED" {
		t.Errorf("Deny err = %v, want conflict with server message", err)
	}
}

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		code   int
		target error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
	}
	for _, tt := range tests {
		if !errors.Is(&APIError{StatusCode: tt.code}, tt.target) {
			t.Errorf("APIError{%d} should match %v", tt.code, tt.target)
		}
	}
	if errors.Is(&APIError{StatusCode: http.StatusInternalServerError}, ErrNotFound) {
		t.Error("500 should not match ErrNotFound")
	}
}

func TestEnvConfiguration(t *testing.T) {
	t.Setenv("AGENTSHIELD_URL", "http://gate.internal:9000")
	t.Setenv("AGENTSHIELD_API_KEY", "env-key")
	t.Setenv("AGENTSHIELD_TIMEOUT", "7")

	c := New()
	if c.baseURL != "http://gate.internal:9000" || c.apiKey != "env-key" || c.timeout != 7*time.Second {
		t.Errorf("env config = %q %q %v", c.baseURL, c.apiKey, c.timeout)
	}

	c = New(WithBaseURL("http://override"), WithAPIKey("opt-key"))
	if c.baseURL != "http://override" || c.apiKey != "opt-key" {
		t.Error("options should override env")
	}

	t.Setenv("AGENTSHIELD_TIMEOUT", "1m30s")
	if got := New().timeout; got != 90*time.Second {
		t.Errorf("duration string timeout = %v", got)
	}
}
