package client

import (
	"context"
	"errors"
)

// Guard evaluates req and runs fn only when the decision is ALLOW.
// DENY returns a *DeniedError and REQUIRE_APPROVAL an *ApprovalRequiredError;
// fn is not called in either case. With WithFailOpen, fn also runs when the
// gate is unreachable.
func (c *Client) Guard(ctx context.Context, req EvaluateRequest, fn func(context.Context) error) error {
	resp, err := c.Evaluate(ctx, req)
	if err != nil {
		if c.failOpen && isUnreachable(err) {
			c.logger.Warn("agentshield unreachable, failing open",
				"base_url", c.baseURL,
				"action_type", req.ActionType,
				"error", err,
			)
			return fn(ctx)
		}
		return err
	}

	if err := decisionError(resp); err != nil {
		return err
	}
	return fn(ctx)
}

// Check reports whether req is allowed. Denials and pending approvals
// are false with a nil error.
func (c *Client) Check(ctx context.Context, req EvaluateRequest) (bool, error) {
	err := c.Guard(ctx, req, func(context.Context) error { return nil })
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrDenied), errors.Is(err, ErrApprovalRequired):
		return false, nil
	default:
		return false, err
	}
}

// decisionError converts a non-ALLOW decision into its error.
func decisionError(resp *EvaluateResponse) error {
	switch resp.Decision {
	case DecisionAllow:
		return nil
	case DecisionRequireApproval:
		e := &ApprovalRequiredError{Reason: resp.Reason, EvaluationID: resp.EvaluationID}
		if resp.ApprovalID != nil {
			e.ApprovalID = *resp.ApprovalID
		}
		return e
	default:
		return &DeniedError{Reason: resp.Reason, RiskScore: resp.RiskScore, EvaluationID: resp.EvaluationID}
	}
}
