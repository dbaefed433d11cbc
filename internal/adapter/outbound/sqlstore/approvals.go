package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentshield/agentshield/internal/domain/approval"
)

const approvalColumns = `id, tenant_id, evaluation_id, status, approver, comment, created_at, resolved_at`

// GetApproval returns approval.ErrNotFound for unknown ids and ids owned by another tenant.
func (s *Store) GetApproval(ctx context.Context, tenantID, id string) (*approval.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE id = ? AND tenant_id = ?`), id, tenantID)
	return scanApproval(row)
}

// GetApprovalByEvaluation returns the approval request attached to an evaluation.
func (s *Store) GetApprovalByEvaluation(ctx context.Context, tenantID, evaluationID string) (*approval.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+approvalColumns+`
		FROM approval_requests
		WHERE evaluation_id = ? AND tenant_id = ?`), evaluationID, tenantID)
	return scanApproval(row)
}

// ResolveApproval moves a PENDING request to res.Status with a conditional
// update, so exactly one of several concurrent resolutions succeeds.
func (s *Store) ResolveApproval(ctx context.Context, tenantID, id string, res approval.Resolution) (*approval.ApprovalRequest, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE approval_requests
		SET status = ?, approver = ?, comment = ?, resolved_at = ?
		WHERE id = ? AND tenant_id = ? AND status = ?`),
		string(res.Status), res.Approver, nullStringPtr(res.Comment), res.ResolvedAt.UTC(),
		id, tenantID, string(approval.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}

	current, err := s.GetApproval(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &approval.ConflictError{Current: current.Status}
	}
	return current, nil
}

func scanApproval(row scanner) (*approval.ApprovalRequest, error) {
	var (
		a                 approval.ApprovalRequest
		status            string
		approver, comment sql.NullString
		resolvedAt        sql.NullTime
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.EvaluationID, &status, &approver, &comment, &a.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	a.Status = approval.Status(status)
	a.Approver = stringPtr(approver)
	a.Comment = stringPtr(comment)
	a.CreatedAt = a.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}
	return &a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
