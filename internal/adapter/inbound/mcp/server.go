// Package mcp exposes the action gate to MCP clients as tools, so an agent
// runtime can ask for a decision before it acts.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/port/inbound"
)

const (
	// ServerName is announced to MCP clients.
	ServerName = "agentshield"

	EvaluateToolName    = "evaluate_action"
	GetApprovalToolName = "get_approval"
)

// Server serves the gate tools for a single tenant.
type Server struct {
	evaluator inbound.Evaluator
	approvals inbound.Approvals
	tenantID  string
	logger    *slog.Logger
	server    *sdk.Server
}

// NewServer registers the gate tools on a new MCP server acting for tenantID.
func NewServer(evaluator inbound.Evaluator, approvals inbound.Approvals, tenantID, version string, logger *slog.Logger) *Server {
	s := &Server{
		evaluator: evaluator,
		approvals: approvals,
		tenantID:  tenantID,
		logger:    logger,
		server:    sdk.NewServer(&sdk.Implementation{Name: ServerName, Version: version}, nil),
	}

	sdk.AddTool(s.server, &sdk.Tool{
		Name: EvaluateToolName,
		Description: "Evaluate a proposed agent action before running it. " +
			"Returns ALLOW, DENY or REQUIRE_APPROVAL with the risk score and matched policy rules. " +
			"Do not run the action unless the decision is ALLOW.",
	}, s.evaluate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        GetApprovalToolName,
		Description: "Get the status of an approval request created by evaluate_action.",
	}, s.getApproval)

	return s
}

// Run serves MCP over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", "tenant_id", s.tenantID)
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves one session over t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// EvaluateInput is the argument of evaluate_action.
type EvaluateInput struct {
	ActionType      string         `json:"action_type" jsonschema:"one of tool_call, aws_api, codegen, other"`
	Actor           string         `json:"actor,omitempty" jsonschema:"who the agent acts for"`
	Agent           string         `json:"agent,omitempty" jsonschema:"agent name"`
	TraceID         string         `json:"trace_id,omitempty" jsonschema:"caller trace id"`
	ToolName        string         `json:"tool_name,omitempty" jsonschema:"tool to run, for tool_call"`
	ToolArgs        map[string]any `json:"tool_args,omitempty" jsonschema:"tool arguments"`
	AWSService      string         `json:"aws_service,omitempty" jsonschema:"AWS service, for aws_api (e.g. iam)"`
	AWSOperation    string         `json:"aws_operation,omitempty" jsonschema:"AWS operation, for aws_api (e.g. CreateAccessKey)"`
	Params          map[string]any `json:"params,omitempty" jsonschema:"AWS request parameters"`
	Context         map[string]any `json:"context,omitempty" jsonschema:"free-form context"`
	WaitForApproval bool           `json:"wait_for_approval,omitempty" jsonschema:"block until a human resolves the approval or the wait times out"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty" jsonschema:"retries with the same key return the first decision"`
}

// HitOutput is one matched policy rule.
type HitOutput struct {
	Policy string `json:"policy"`
	Rule   string `json:"rule"`
	Effect string `json:"effect"`
}

// EvaluateOutput is the structured result of evaluate_action.
type EvaluateOutput struct {
	Decision     string      `json:"decision"`
	Reason       string      `json:"reason"`
	RiskScore    int         `json:"risk_score"`
	RiskSignals  []string    `json:"risk_signals"`
	PolicyHits   []HitOutput `json:"policy_hits"`
	EvaluationID string      `json:"evaluation_id"`
	ApprovalID   string      `json:"approval_id,omitempty"`
}

// GetApprovalInput is the argument of get_approval.
type GetApprovalInput struct {
	ApprovalID string `json:"approval_id" jsonschema:"approval id returned by evaluate_action"`
}

// ApprovalOutput is the structured result of get_approval.
type ApprovalOutput struct {
	ID           string `json:"id"`
	EvaluationID string `json:"evaluation_id"`
	Status       string `json:"status"`
	Approver     string `json:"approver,omitempty"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    string `json:"created_at"`
	ResolvedAt   string `json:"resolved_at,omitempty"`
}

func (s *Server) evaluate(ctx context.Context, _ *sdk.CallToolRequest, in EvaluateInput) (*sdk.CallToolResult, EvaluateOutput, error) {
	resp, err := s.evaluator.Evaluate(ctx, s.tenantID, in.IdempotencyKey, in.request())
	if err != nil {
		s.logger.Warn("evaluate_action failed", "error", err)
		return nil, EvaluateOutput{}, err
	}

	out := EvaluateOutput{
		Decision:     string(resp.Decision),
		Reason:       resp.Reason,
		RiskScore:    resp.RiskScore,
		RiskSignals:  append([]string{}, resp.Signals...),
		PolicyHits:   make([]HitOutput, 0, len(resp.PolicyHits)),
		EvaluationID: resp.EvaluationID,
	}
	for _, h := range resp.PolicyHits {
		out.PolicyHits = append(out.PolicyHits, HitOutput{Policy: h.Policy, Rule: h.Rule, Effect: string(h.Effect)})
	}
	if resp.ApprovalID != nil {
		out.ApprovalID = *resp.ApprovalID
	}

	summary := fmt.Sprintf("%s (risk %d): %s", out.Decision, out.RiskScore, out.Reason)
	if out.ApprovalID != "" {
		summary += fmt.Sprintf("; approval %s", out.ApprovalID)
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: summary}}}, out, nil
}

func (s *Server) getApproval(ctx context.Context, _ *sdk.CallToolRequest, in GetApprovalInput) (*sdk.CallToolResult, ApprovalOutput, error) {
	ap, err := s.approvals.Get(ctx, s.tenantID, in.ApprovalID)
	if err != nil {
		return nil, ApprovalOutput{}, err
	}

	out := approvalOutput(ap)
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: "approval " + out.ID + " is " + out.Status}}}, out, nil
}

func (in EvaluateInput) request() evaluation.Request {
	return evaluation.Request{
		ActionType:      evaluation.ActionType(in.ActionType),
		Actor:           optional(in.Actor),
		Agent:           optional(in.Agent),
		TraceID:         optional(in.TraceID),
		ToolName:        optional(in.ToolName),
		ToolArgs:        in.ToolArgs,
		AWSService:      optional(in.AWSService),
		AWSOperation:    optional(in.AWSOperation),
		Params:          in.Params,
		Context:         in.Context,
		WaitForApproval: in.WaitForApproval,
	}
}

func approvalOutput(ap *approval.ApprovalRequest) ApprovalOutput {
	out := ApprovalOutput{
		ID:           ap.ID,
		EvaluationID: ap.EvaluationID,
		Status:       string(ap.Status),
		CreatedAt:    ap.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ap.Approver != nil {
		out.Approver = *ap.Approver
	}
	if ap.Comment != nil {
		out.Comment = *ap.Comment
	}
	if ap.ResolvedAt != nil {
		out.ResolvedAt = ap.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
