package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/domain/policy"
	"github.com/agentshield/agentshield/internal/domain/risk"
	"github.com/agentshield/agentshield/internal/port/outbound"
	"github.com/agentshield/agentshield/internal/traces"
)

// MaxIdempotencyKeyLength bounds caller-supplied idempotency keys.
const MaxIdempotencyKeyLength = 255

const defaultPolicyCacheSize = 1024

// EvaluationService runs the evaluation pipeline: idempotent replay, risk
// scoring, policy evaluation, atomic persistence, and the optional wait for
// an approval decision.
type EvaluationService struct {
	store     outbound.Store
	guard     *IdempotencyGuard
	approvals *ApprovalService
	compiler  policy.ConditionCompiler
	cache     *PolicyCache
	cfg       Config
	metrics   *Metrics
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// EvaluationServiceOption configures EvaluationService.
type EvaluationServiceOption func(*EvaluationService)

// WithConditionCompiler enables "cel" match clauses in policy documents.
func WithConditionCompiler(c policy.ConditionCompiler) EvaluationServiceOption {
	return func(s *EvaluationService) { s.compiler = c }
}

// WithEvaluationMetrics records evaluation metrics.
func WithEvaluationMetrics(m *Metrics) EvaluationServiceOption {
	return func(s *EvaluationService) { s.metrics = m }
}

// WithPolicyCache replaces the default parsed-policy cache.
func WithPolicyCache(c *PolicyCache) EvaluationServiceOption {
	return func(s *EvaluationService) { s.cache = c }
}

// WithEvaluationClock overrides the clock used for record timestamps.
func WithEvaluationClock(now func() time.Time) EvaluationServiceOption {
	return func(s *EvaluationService) { s.now = now }
}

// NewEvaluationService wires the pipeline. approvals is used for synchronous waits.
func NewEvaluationService(store outbound.Store, approvals *ApprovalService, cfg Config, logger *slog.Logger, opts ...EvaluationServiceOption) *EvaluationService {
	s := &EvaluationService{
		store:     store,
		guard:     NewIdempotencyGuard(store, store),
		approvals: approvals,
		cache:     NewPolicyCache(defaultPolicyCacheSize),
		cfg:       cfg.withDefaults(),
		validate:  newRequestValidator(),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate decides on req for tenantID. A non-empty idempotencyKey already
// used by the tenant replays the stored response without re-evaluating.
func (s *EvaluationService) Evaluate(ctx context.Context, tenantID, idempotencyKey string, req evaluation.Request) (*evaluation.Response, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("%w: tenant id %q", evaluation.ErrInvalidInput, tenantID)
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		idempotencyKey = ""
	}
	if len(idempotencyKey) > MaxIdempotencyKeyLength {
		return nil, fmt.Errorf("%w: idempotency key longer than %d bytes", evaluation.ErrInvalidInput, MaxIdempotencyKeyLength)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", evaluation.ErrInvalidInput, describeValidation(err))
	}

	ctx, span := traces.StartSpan(ctx, "evaluate", traces.TenantID(tenantID))
	defer span.End()

	if resp, err := s.guard.Lookup(ctx, tenantID, idempotencyKey); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	} else if resp != nil {
		s.metrics.replay()
		s.logger.Info("idempotent replay", "tenant_id", tenantID, "evaluation_id", resp.EvaluationID)
		return resp, nil
	}

	ev, ap, err := s.decide(ctx, tenantID, idempotencyKey, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(traces.EvaluationID(ev.ID), traces.Decision(string(ev.Decision)), traces.RiskScore(ev.RiskScore))

	if err := s.persist(ctx, ev, ap); err != nil {
		if errors.Is(err, evaluation.ErrDuplicateIdempotencyKey) {
			return s.replayAfterConflict(ctx, tenantID, idempotencyKey)
		}
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to store evaluation", "tenant_id", tenantID, "error", err)
		return nil, err
	}

	s.metrics.evaluation(string(ev.Decision), ev.RiskScore)
	if ap != nil {
		s.metrics.approvalCreated()
	}
	s.logger.Info("evaluation decided",
		"tenant_id", tenantID,
		"evaluation_id", ev.ID,
		"decision", ev.Decision,
		"risk_score", ev.RiskScore,
		"hits", len(ev.PolicyHits),
	)

	resp := responseFor(ev, ap)
	if ap != nil && req.WaitForApproval && s.approvals != nil {
		s.awaitApproval(ctx, tenantID, ap.ID, resp)
	}
	return resp, nil
}

// decide scores and evaluates req and builds the records to persist.
func (s *EvaluationService) decide(ctx context.Context, tenantID, idempotencyKey string, req evaluation.Request) (*evaluation.Evaluation, *approval.ApprovalRequest, error) {
	payload, hash, err := evaluation.CanonicalPayload(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode request: %v", evaluation.ErrInvalidInput, err)
	}

	_, riskSpan := traces.StartSpan(ctx, "risk.score")
	score, signals := risk.Score(string(req.ActionType), risk.Payload{
		ToolName:     deref(req.ToolName),
		ToolArgs:     req.ToolArgs,
		AWSService:   deref(req.AWSService),
		AWSOperation: deref(req.AWSOperation),
		Params:       req.Params,
	})
	riskSpan.SetAttributes(traces.RiskScore(score))
	riskSpan.End()
	if signals == nil {
		signals = []string{}
	}

	defaultDecision := policy.EffectAllow
	if score >= s.cfg.ApprovalThreshold {
		defaultDecision = policy.EffectRequireApproval
	}

	policies, err := s.loadPolicies(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	_, policySpan := traces.StartSpan(ctx, "policy.evaluate")
	decision := policy.Evaluate(policies, matchContext(req, score, defaultDecision))
	policySpan.SetAttributes(traces.Decision(string(decision.Effect)))
	policySpan.End()

	now := s.now().UTC()
	ev := &evaluation.Evaluation{
		ID:             s.newID(),
		TenantID:       tenantID,
		IdempotencyKey: idempotencyKey,
		TraceID:        deref(req.TraceID),
		ActionType:     req.ActionType,
		Actor:          deref(req.Actor),
		Agent:          deref(req.Agent),
		ToolName:       deref(req.ToolName),
		AWSService:     deref(req.AWSService),
		AWSOperation:   deref(req.AWSOperation),
		RequestPayload: payload,
		RequestHash:    hash,
		Decision:       decision.Effect,
		Reason:         decision.Reason,
		RiskScore:      score,
		Signals:        signals,
		PolicyHits:     decision.Hits,
		CreatedAt:      now,
	}

	var ap *approval.ApprovalRequest
	if decision.Effect == policy.EffectRequireApproval {
		ap = &approval.ApprovalRequest{
			ID:           s.newID(),
			TenantID:     tenantID,
			EvaluationID: ev.ID,
			Status:       approval.StatusPending,
			CreatedAt:    now,
		}
	}
	return ev, ap, nil
}

// loadPolicies reads the tenant's enabled policies and parses them, reusing
// cached parses for unchanged records. Unparseable records are skipped.
func (s *EvaluationService) loadPolicies(ctx context.Context, tenantID string) ([]policy.Policy, error) {
	records, err := s.store.ListEnabledPolicies(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	policies := make([]policy.Policy, 0, len(records))
	for _, rec := range records {
		key := policyCacheKey(rec)
		if p, ok := s.cache.Get(key); ok {
			policies = append(policies, p)
			continue
		}
		p, err := policy.Compile(rec, s.compiler)
		if err != nil {
			s.metrics.parseFailure()
			s.logger.Error("skipping unparseable policy", "tenant_id", tenantID, "policy", rec.Name, "version", rec.Version, "error", err)
			continue
		}
		s.cache.Put(key, p)
		policies = append(policies, p)
	}
	return policies, nil
}

func (s *EvaluationService) persist(ctx context.Context, ev *evaluation.Evaluation, ap *approval.ApprovalRequest) error {
	ctx, span := traces.StartSpan(ctx, "store.create_evaluation", traces.EvaluationID(ev.ID))
	defer span.End()
	if err := s.store.CreateEvaluation(ctx, ev, ap); err != nil {
		if errors.Is(err, evaluation.ErrDuplicateIdempotencyKey) {
			return err
		}
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

// replayAfterConflict serves a caller that lost the race to store an
// evaluation under the same idempotency key.
func (s *EvaluationService) replayAfterConflict(ctx context.Context, tenantID, key string) (*evaluation.Response, error) {
	resp, err := s.guard.Lookup(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("idempotency key %q conflicted but no evaluation is stored", key)
	}
	s.metrics.replay()
	s.logger.Info("idempotent replay after concurrent insert", "tenant_id", tenantID, "evaluation_id", resp.EvaluationID)
	return resp, nil
}

// awaitApproval rewrites resp when the approval is resolved within the wait.
// Timeouts and abandoned waits leave resp unchanged.
func (s *EvaluationService) awaitApproval(ctx context.Context, tenantID, approvalID string, resp *evaluation.Response) {
	resolved, err := s.approvals.AwaitResolution(ctx, tenantID, approvalID, s.cfg.WaitTimeout)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("approval wait failed", "approval_id", approvalID, "error", err)
		}
		return
	}
	if resolved == nil {
		return
	}

	switch resolved.Status {
	case approval.StatusApproved:
		resp.Decision = policy.EffectAllow
	case approval.StatusDenied:
		resp.Decision = policy.EffectDeny
	default:
		return
	}
	resp.Reason = "approval:" + string(resolved.Status)
}

func matchContext(req evaluation.Request, score int, defaultDecision policy.Effect) policy.MatchContext {
	return policy.MatchContext{
		policy.KeyActionType:      policy.StringValue(string(req.ActionType)),
		policy.KeyActor:           optional(req.Actor),
		policy.KeyAgent:           optional(req.Agent),
		policy.KeyToolName:        optional(req.ToolName),
		policy.KeyAWSService:      optional(req.AWSService),
		policy.KeyAWSOperation:    optional(req.AWSOperation),
		policy.KeyRiskScore:       policy.IntValue(score),
		policy.KeyDefaultDecision: policy.StringValue(string(defaultDecision)),
	}
}

func optional(s *string) policy.Value {
	if s == nil {
		return policy.NullValue()
	}
	return policy.StringValue(*s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
