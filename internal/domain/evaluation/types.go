// Package evaluation holds the gating request/response model and the
// immutable Evaluation record produced for every decision.
package evaluation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/policy"
)

// ActionType classifies what an agent wants to do.
type ActionType string

const (
	ActionToolCall ActionType = "tool_call"
	ActionAWSAPI   ActionType = "aws_api"
	ActionCodegen  ActionType = "codegen"
	ActionOther    ActionType = "other"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionToolCall, ActionAWSAPI, ActionCodegen, ActionOther:
		return true
	}
	return false
}

// Request is a proposed agent action submitted for a decision.
// The idempotency key travels separately.
type Request struct {
	ActionType      ActionType     `json:"action_type" validate:"required,oneof=tool_call aws_api codegen other"`
	Actor           *string        `json:"actor,omitempty"`
	Agent           *string        `json:"agent,omitempty"`
	TraceID         *string        `json:"trace_id,omitempty"`
	ToolName        *string        `json:"tool_name,omitempty"`
	ToolArgs        map[string]any `json:"tool_args,omitempty"`
	AWSService      *string        `json:"aws_service,omitempty"`
	AWSOperation    *string        `json:"aws_operation,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	WaitForApproval bool           `json:"wait_for_approval,omitempty"`
}

// Response is returned for every evaluation, fresh or replayed.
type Response struct {
	Decision     policy.Effect `json:"decision"`
	Reason       string        `json:"reason"`
	RiskScore    int           `json:"risk_score"`
	Signals      []string      `json:"risk_signals"`
	PolicyHits   []policy.Hit  `json:"policy_hits"`
	EvaluationID string        `json:"evaluation_id"`
	ApprovalID   *string       `json:"approval_id"`
}

// Evaluation is the stored record of one decision. It is never mutated.
type Evaluation struct {
	ID             string
	TenantID       string
	IdempotencyKey string
	TraceID        string
	ActionType     ActionType
	Actor          string
	Agent          string
	ToolName       string
	AWSService     string
	AWSOperation   string
	// RequestPayload is the canonical JSON of the Request.
	RequestPayload json.RawMessage
	RequestHash    string
	Decision       policy.Effect
	Reason         string
	RiskScore      int
	Signals        []string
	PolicyHits     []policy.Hit
	CreatedAt      time.Time
}

// Store persists evaluations.
type Store interface {
	// CreateEvaluation stores ev and, when non-nil, ap in one atomic step.
	// It returns ErrDuplicateIdempotencyKey when the tenant already has an
	// evaluation under ev.IdempotencyKey; nothing is written in that case.
	CreateEvaluation(ctx context.Context, ev *Evaluation, ap *approval.ApprovalRequest) error
	// GetEvaluationByIdempotencyKey returns ErrNotFound when no evaluation exists.
	GetEvaluationByIdempotencyKey(ctx context.Context, tenantID, key string) (*Evaluation, error)
}

var (
	// ErrInvalidInput is returned for malformed identifiers or request bodies.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when no evaluation matches.
	ErrNotFound = errors.New("evaluation not found")
	// ErrDuplicateIdempotencyKey is returned by stores when the tenant already
	// holds an evaluation under the same idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// CanonicalPayload returns the request as JSON with object keys sorted at
// every level, and its SHA-256 hex digest.
func CanonicalPayload(req Request) (json.RawMessage, string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}
	// Round-tripping through a generic value sorts map keys.
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, "", err
	}
	canon, err := json.Marshal(generic)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(canon)
	return canon, hex.EncodeToString(sum[:]), nil
}
