// Package inbound defines the operations transports expose to callers.
package inbound

import (
	"context"
	"time"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
)

// Evaluator runs the evaluation pipeline for a tenant.
type Evaluator interface {
	Evaluate(ctx context.Context, tenantID, idempotencyKey string, req evaluation.Request) (*evaluation.Response, error)
}

// Approvals reads and resolves approval requests for a tenant.
type Approvals interface {
	Get(ctx context.Context, tenantID, id string) (*approval.ApprovalRequest, error)
	Approve(ctx context.Context, tenantID, id, approver string, comment *string) (*approval.ApprovalRequest, error)
	Deny(ctx context.Context, tenantID, id, approver string, comment *string) (*approval.ApprovalRequest, error)
	AwaitResolution(ctx context.Context, tenantID, id string, timeout time.Duration) (*approval.ApprovalRequest, error)
}
