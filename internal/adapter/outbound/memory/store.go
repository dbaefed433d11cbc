// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/domain/policy"
	"github.com/agentshield/agentshield/internal/port/outbound"
)

// Store keeps policies, evaluations and approval requests in maps guarded by
// a single mutex, so CreateEvaluation is atomic across both record kinds.
// Values are copied on the way in and out. For development and tests.
type Store struct {
	mu sync.RWMutex

	policies    map[string]*policy.Record // tenant\x00name -> record
	evaluations map[string]*evaluation.Evaluation
	idemIndex   map[string]string // tenant\x00key -> evaluation id
	approvals   map[string]*approval.ApprovalRequest
	byEval      map[string]string // evaluation id -> approval id

	now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		policies:    make(map[string]*policy.Record),
		evaluations: make(map[string]*evaluation.Evaluation),
		idemIndex:   make(map[string]string),
		approvals:   make(map[string]*approval.ApprovalRequest),
		byEval:      make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func compositeKey(tenantID, s string) string {
	return tenantID + "\x00" + s
}

// ListEnabledPolicies returns the tenant's enabled policies ordered by name.
func (s *Store) ListEnabledPolicies(ctx context.Context, tenantID string) ([]policy.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []policy.Record
	for _, p := range s.policies {
		if p.TenantID == tenantID && p.Enabled {
			result = append(result, copyRecord(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// UpsertPolicy creates the named policy at version 1 or replaces it, bumping the version.
func (s *Store) UpsertPolicy(ctx context.Context, tenantID, name string, enabled bool, dsl []byte) (policy.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := compositeKey(tenantID, name)
	p, ok := s.policies[key]
	if !ok {
		p = &policy.Record{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Name:      name,
			CreatedAt: now,
		}
		s.policies[key] = p
	}
	p.Enabled = enabled
	p.Version++
	p.DSL = append([]byte(nil), dsl...)
	p.UpdatedAt = now
	return copyRecord(p), nil
}

// CreateEvaluation stores ev and the optional approval request together.
func (s *Store) CreateEvaluation(ctx context.Context, ev *evaluation.Evaluation, ap *approval.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.IdempotencyKey != "" {
		if _, exists := s.idemIndex[compositeKey(ev.TenantID, ev.IdempotencyKey)]; exists {
			return evaluation.ErrDuplicateIdempotencyKey
		}
	}

	s.evaluations[ev.ID] = copyEvaluation(ev)
	if ev.IdempotencyKey != "" {
		s.idemIndex[compositeKey(ev.TenantID, ev.IdempotencyKey)] = ev.ID
	}
	if ap != nil {
		s.approvals[ap.ID] = ap.Clone()
		s.byEval[ap.EvaluationID] = ap.ID
	}
	return nil
}

// GetEvaluationByIdempotencyKey returns evaluation.ErrNotFound when the key is unused.
func (s *Store) GetEvaluationByIdempotencyKey(ctx context.Context, tenantID, key string) (*evaluation.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idemIndex[compositeKey(tenantID, key)]
	if !ok {
		return nil, evaluation.ErrNotFound
	}
	return copyEvaluation(s.evaluations[id]), nil
}

// GetApproval returns approval.ErrNotFound for unknown ids and ids owned by another tenant.
func (s *Store) GetApproval(ctx context.Context, tenantID, id string) (*approval.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.approvals[id]
	if !ok || a.TenantID != tenantID {
		return nil, approval.ErrNotFound
	}
	return a.Clone(), nil
}

// GetApprovalByEvaluation returns the approval request attached to an evaluation.
func (s *Store) GetApprovalByEvaluation(ctx context.Context, tenantID, evaluationID string) (*approval.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEval[evaluationID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	a := s.approvals[id]
	if a.TenantID != tenantID {
		return nil, approval.ErrNotFound
	}
	return a.Clone(), nil
}

// ResolveApproval transitions a PENDING request under the write lock.
func (s *Store) ResolveApproval(ctx context.Context, tenantID, id string, res approval.Resolution) (*approval.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.approvals[id]
	if !ok || a.TenantID != tenantID {
		return nil, approval.ErrNotFound
	}
	if a.Status != approval.StatusPending {
		return nil, &approval.ConflictError{Current: a.Status}
	}

	approver := res.Approver
	resolvedAt := res.ResolvedAt
	a.Status = res.Status
	a.Approver = &approver
	a.Comment = nil
	if res.Comment != nil {
		c := *res.Comment
		a.Comment = &c
	}
	a.ResolvedAt = &resolvedAt
	return a.Clone(), nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func copyRecord(p *policy.Record) policy.Record {
	c := *p
	c.DSL = append([]byte(nil), p.DSL...)
	return c
}

func copyEvaluation(ev *evaluation.Evaluation) *evaluation.Evaluation {
	c := *ev
	c.RequestPayload = append(json.RawMessage(nil), ev.RequestPayload...)
	c.Signals = append([]string(nil), ev.Signals...)
	c.PolicyHits = append([]policy.Hit(nil), ev.PolicyHits...)
	return &c
}

// Compile-time interface verification.
var _ outbound.Store = (*Store)(nil)
