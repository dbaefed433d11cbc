// Package client is the Go client for the AgentShield action gate.
//
// Agents call the gate before acting. Guard wraps an action so that it only
// runs when the gate answers ALLOW:
//
//	// Set AGENTSHIELD_URL and AGENTSHIELD_API_KEY env vars, then:
//	c := client.New()
//
//	err := c.Guard(ctx, client.AWSCall("iam", "CreateUser", params), func(ctx context.Context) error {
//	    _, err := iamClient.CreateUser(ctx, input)
//	    return err
//	})
//	var pending *client.ApprovalRequiredError
//	switch {
//	case errors.Is(err, client.ErrDenied):
//	    // blocked by policy
//	case errors.As(err, &pending):
//	    // ask a human to resolve pending.ApprovalID
//	}
package client

import "time"

// Decision is the gate's answer for an action.
type Decision string

const (
	DecisionAllow           Decision = "ALLOW"
	DecisionDeny            Decision = "DENY"
	DecisionRequireApproval Decision = "REQUIRE_APPROVAL"
)

// Action types accepted by the gate.
const (
	ActionToolCall = "tool_call"
	ActionAWSAPI   = "aws_api"
	ActionCodegen  = "codegen"
	ActionOther    = "other"
)

// EvaluateRequest describes a proposed agent action.
type EvaluateRequest struct {
	ActionType      string         `json:"action_type"`
	Actor           string         `json:"actor,omitempty"`
	Agent           string         `json:"agent,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolArgs        map[string]any `json:"tool_args,omitempty"`
	AWSService      string         `json:"aws_service,omitempty"`
	AWSOperation    string         `json:"aws_operation,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	WaitForApproval bool           `json:"wait_for_approval,omitempty"`

	// IdempotencyKey is sent as the Idempotency-Key header. Retries with the
	// same key return the first decision.
	IdempotencyKey string `json:"-"`
}

// ToolCall builds a request for running a tool.
func ToolCall(name string, args map[string]any) EvaluateRequest {
	return EvaluateRequest{ActionType: ActionToolCall, ToolName: name, ToolArgs: args}
}

// AWSCall builds a request for an AWS API call, e.g. AWSCall("iam", "CreateAccessKey", nil).
func AWSCall(service, operation string, params map[string]any) EvaluateRequest {
	return EvaluateRequest{ActionType: ActionAWSAPI, AWSService: service, AWSOperation: operation, Params: params}
}

// PolicyHit is one matched policy rule.
type PolicyHit struct {
	Policy string   `json:"policy"`
	Rule   string   `json:"rule"`
	Effect Decision `json:"effect"`
}

// EvaluateResponse is the gate's decision.
type EvaluateResponse struct {
	Decision     Decision    `json:"decision"`
	Reason       string      `json:"reason"`
	RiskScore    int         `json:"risk_score"`
	RiskSignals  []string    `json:"risk_signals"`
	PolicyHits   []PolicyHit `json:"policy_hits"`
	EvaluationID string      `json:"evaluation_id"`
	ApprovalID   *string     `json:"approval_id"`
}

// Approval statuses.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDenied   = "DENIED"
)

// Approval is the state of an approval request.
type Approval struct {
	ID           string     `json:"id"`
	EvaluationID string     `json:"evaluation_id"`
	Status       string     `json:"status"`
	Approver     *string    `json:"approver"`
	Comment      *string    `json:"comment"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`
}

type resolveRequest struct {
	Approver string  `json:"approver"`
	Comment  *string `json:"comment,omitempty"`
}
