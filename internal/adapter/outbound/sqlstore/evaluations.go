package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/domain/policy"
)

// CreateEvaluation inserts ev and the optional approval request in one
// transaction. A unique violation on (tenant_id, idempotency_key) is reported
// as evaluation.ErrDuplicateIdempotencyKey and nothing is written.
func (s *Store) CreateEvaluation(ctx context.Context, ev *evaluation.Evaluation, ap *approval.ApprovalRequest) error {
	signals, err := json.Marshal(nonNilSignals(ev.Signals))
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	hits, err := json.Marshal(nonNilHits(ev.PolicyHits))
	if err != nil {
		return fmt.Errorf("encode policy hits: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO evaluations (
			id, tenant_id, idempotency_key, trace_id, action_type, actor, agent,
			tool_name, aws_service, aws_operation, request_payload, request_hash,
			decision, reason, risk_score, signals, policy_hits, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.TenantID, nullString(ev.IdempotencyKey), nullString(ev.TraceID),
		string(ev.ActionType), nullString(ev.Actor), nullString(ev.Agent),
		nullString(ev.ToolName), nullString(ev.AWSService), nullString(ev.AWSOperation),
		string(ev.RequestPayload), ev.RequestHash,
		string(ev.Decision), ev.Reason, ev.RiskScore, string(signals), string(hits),
		ev.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return evaluation.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert evaluation: %w", err)
	}

	if ap != nil {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO approval_requests (id, tenant_id, evaluation_id, status, approver, comment, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			ap.ID, ap.TenantID, ap.EvaluationID, string(ap.Status),
			nullStringPtr(ap.Approver), nullStringPtr(ap.Comment),
			ap.CreatedAt.UTC(), nullTime(ap.ResolvedAt),
		)
		if err != nil {
			return fmt.Errorf("insert approval request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return evaluation.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("commit evaluation: %w", err)
	}
	return nil
}

// GetEvaluationByIdempotencyKey returns evaluation.ErrNotFound when the key is unused.
func (s *Store) GetEvaluationByIdempotencyKey(ctx context.Context, tenantID, key string) (*evaluation.Evaluation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, tenant_id, idempotency_key, trace_id, action_type, actor, agent,
		       tool_name, aws_service, aws_operation, request_payload, request_hash,
		       decision, reason, risk_score, signals, policy_hits, created_at
		FROM evaluations
		WHERE tenant_id = ? AND idempotency_key = ?`), tenantID, key)

	var (
		ev                                           evaluation.Evaluation
		idemKey, traceID, actor, agent               sql.NullString
		toolName, awsService, awsOperation           sql.NullString
		actionType, payload, decision, signals, hits string
	)
	err := row.Scan(
		&ev.ID, &ev.TenantID, &idemKey, &traceID, &actionType, &actor, &agent,
		&toolName, &awsService, &awsOperation, &payload, &ev.RequestHash,
		&decision, &ev.Reason, &ev.RiskScore, &signals, &hits, &ev.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, evaluation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}

	ev.IdempotencyKey = idemKey.String
	ev.TraceID = traceID.String
	ev.ActionType = evaluation.ActionType(actionType)
	ev.Actor = actor.String
	ev.Agent = agent.String
	ev.ToolName = toolName.String
	ev.AWSService = awsService.String
	ev.AWSOperation = awsOperation.String
	ev.RequestPayload = json.RawMessage(payload)
	ev.Decision = policy.Effect(decision)
	ev.CreatedAt = ev.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(signals), &ev.Signals); err != nil {
		return nil, fmt.Errorf("corrupt signals for evaluation %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(hits), &ev.PolicyHits); err != nil {
		return nil, fmt.Errorf("corrupt policy hits for evaluation %s: %w", ev.ID, err)
	}
	ev.Signals = nonNilSignals(ev.Signals)
	ev.PolicyHits = nonNilHits(ev.PolicyHits)
	return &ev, nil
}

func nonNilSignals(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilHits(h []policy.Hit) []policy.Hit {
	if h == nil {
		return []policy.Hit{}
	}
	return h
}
