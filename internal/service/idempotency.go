package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/domain/policy"
)

// IdempotencyGuard answers repeated submissions from the stored evaluation.
type IdempotencyGuard struct {
	evaluations evaluation.Store
	approvals   approval.Store
}

// NewIdempotencyGuard creates a guard over the given stores.
func NewIdempotencyGuard(evaluations evaluation.Store, approvals approval.Store) *IdempotencyGuard {
	return &IdempotencyGuard{evaluations: evaluations, approvals: approvals}
}

// Lookup returns the replayed response for (tenantID, key), or nil when the
// key is empty or unused.
func (g *IdempotencyGuard) Lookup(ctx context.Context, tenantID, key string) (*evaluation.Response, error) {
	if key == "" {
		return nil, nil
	}

	ev, err := g.evaluations.GetEvaluationByIdempotencyKey(ctx, tenantID, key)
	if errors.Is(err, evaluation.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return g.replay(ctx, ev)
}

func (g *IdempotencyGuard) replay(ctx context.Context, ev *evaluation.Evaluation) (*evaluation.Response, error) {
	resp := responseFor(ev, nil)
	if ev.Decision != policy.EffectRequireApproval {
		return resp, nil
	}

	ap, err := g.approvals.GetApprovalByEvaluation(ctx, ev.TenantID, ev.ID)
	switch {
	case errors.Is(err, approval.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("lookup approval for evaluation %s: %w", ev.ID, err)
	default:
		id := ap.ID
		resp.ApprovalID = &id
	}
	return resp, nil
}

// responseFor renders a stored evaluation as the caller-facing response.
func responseFor(ev *evaluation.Evaluation, ap *approval.ApprovalRequest) *evaluation.Response {
	resp := &evaluation.Response{
		Decision:     ev.Decision,
		Reason:       ev.Reason,
		RiskScore:    ev.RiskScore,
		Signals:      append([]string{}, ev.Signals...),
		PolicyHits:   append([]policy.Hit{}, ev.PolicyHits...),
		EvaluationID: ev.ID,
	}
	if ap != nil {
		id := ap.ID
		resp.ApprovalID = &id
	}
	return resp
}
