package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentshield/agentshield/internal/adapter/outbound/memory"
	"github.com/agentshield/agentshield/internal/domain/policy"
	"github.com/agentshield/agentshield/internal/service"
)

type gateEnv struct {
	tenant    string
	approvals *service.ApprovalService
	server    *Server
}

func newGateEnv(t *testing.T) *gateEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tenant := uuid.NewString()
	store := memory.NewStore()
	if _, err := store.UpsertPolicy(context.Background(), tenant, policy.StarterPolicyName, true, policy.StarterDocument); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	cfg := service.Config{ApprovalThreshold: 60, WaitTimeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	approvals := service.NewApprovalService(store, memory.NewNotifier(), cfg, logger)
	evals := service.NewEvaluationService(store, approvals, cfg, logger)

	return &gateEnv{
		tenant:    tenant,
		approvals: approvals,
		server:    NewServer(evals, approvals, tenant, "test", logger),
	}
}

func TestEvaluateTool(t *testing.T) {
	t.Parallel()
	env := newGateEnv(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		in           EvaluateInput
		wantDecision string
		wantScore    int
		wantApproval bool
	}{
		{
			name:         "dangerous iam",
			in:           EvaluateInput{ActionType: "aws_api", AWSService: "iam", AWSOperation: "CreateAccessKey"},
			wantDecision: "DENY",
			wantScore:    70,
		},
		{
			name:         "shell needs approval",
			in:           EvaluateInput{ActionType: "tool_call", ToolName: "shell", ToolArgs: map[string]any{"command": "rm -rf /"}},
			wantDecision: "REQUIRE_APPROVAL",
			wantScore:    65,
			wantApproval: true,
		},
		{
			name:         "harmless search",
			in:           EvaluateInput{ActionType: "tool_call", ToolName: "search", ToolArgs: map[string]any{"q": "weather"}},
			wantDecision: "ALLOW",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, out, err := env.server.evaluate(ctx, nil, tt.in)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if out.Decision != tt.wantDecision || out.RiskScore != tt.wantScore {
				t.Errorf("got %s/%d, want %s/%d", out.Decision, out.RiskScore, tt.wantDecision, tt.wantScore)
			}
			if (out.ApprovalID != "") != tt.wantApproval {
				t.Errorf("approval_id = %q, want present=%v", out.ApprovalID, tt.wantApproval)
			}
			if out.RiskSignals == nil || out.PolicyHits == nil {
				t.Error("signals and hits must be non-nil lists")
			}
			text := res.Content[0].(*sdk.TextContent).Text
			if !strings.HasPrefix(text, tt.wantDecision) {
				t.Errorf("summary = %q", text)
			}
		})
	}
}

func TestEvaluateTool_IdempotencyKey(t *testing.T) {
	t.Parallel()
	env := newGateEnv(t)
	ctx := context.Background()

	in := EvaluateInput{ActionType: "tool_call", ToolName: "bash", IdempotencyKey: "agent-step-7"}
	_, first, err := env.server.evaluate(ctx, nil, in)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := env.server.evaluate(ctx, nil, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.EvaluationID != second.EvaluationID || first.ApprovalID != second.ApprovalID {
		t.Errorf("replay differs: %+v vs %+v", first, second)
	}
}

func TestEvaluateTool_InvalidActionType(t *testing.T) {
	t.Parallel()
	env := newGateEnv(t)

	if _, _, err := env.server.evaluate(context.Background(), nil, EvaluateInput{ActionType: "teleport"}); err == nil {
		t.Fatal("expected an error for an unknown action type")
	}
}

func TestGetApprovalTool(t *testing.T) {
	t.Parallel()
	env := newGateEnv(t)
	ctx := context.Background()

	_, ev, err := env.server.evaluate(ctx, nil, EvaluateInput{ActionType: "tool_call", ToolName: "python_repl"})
	if err != nil {
		t.Fatal(err)
	}

	_, pending, err := env.server.getApproval(ctx, nil, GetApprovalInput{ApprovalID: ev.ApprovalID})
	if err != nil {
		t.Fatal(err)
	}
	if pending.Status != "PENDING" || pending.EvaluationID != ev.EvaluationID || pending.ResolvedAt != "" {
		t.Errorf("pending = %+v", pending)
	}

	comment := "looks fine"
	if _, err := env.approvals.Approve(ctx, env.tenant, ev.ApprovalID, "alice", &comment); err != nil {
		t.Fatal(err)
	}

	_, resolved, err := env.server.getApproval(ctx, nil, GetApprovalInput{ApprovalID: ev.ApprovalID})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != "APPROVED" || resolved.Approver != "alice" || resolved.Comment != comment || resolved.ResolvedAt == "" {
		t.Errorf("resolved = %+v", resolved)
	}

	if _, _, err := env.server.getApproval(ctx, nil, GetApprovalInput{ApprovalID: uuid.NewString()}); err == nil {
		t.Error("expected not found for an unknown approval")
	}
}

func TestServer_InMemorySession(t *testing.T) {
	t.Parallel()
	env := newGateEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientTransport, serverTransport := sdk.NewInMemoryTransports()
	ss, err := env.server.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	if !names[EvaluateToolName] || !names[GetApprovalToolName] {
		t.Fatalf("tools = %v", names)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name: EvaluateToolName,
		Arguments: map[string]any{
			"action_type":   "aws_api",
			"aws_service":   "iam",
			"aws_operation": "DeleteAccessKey",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	text := res.Content[0].(*sdk.TextContent).Text
	if !strings.HasPrefix(text, "DENY") {
		t.Errorf("summary = %q, want DENY", text)
	}
}
