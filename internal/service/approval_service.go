package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/traces"
)

// ApprovalService resolves approval requests and lets callers wait for a
// resolution. Waiters hold no lock on the record: they subscribe to resolution
// notifications and re-read the record on every wake-up or poll tick.
type ApprovalService struct {
	store    approval.Store
	notifier approval.Notifier
	cfg      Config
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// ApprovalServiceOption configures ApprovalService.
type ApprovalServiceOption func(*ApprovalService)

// WithApprovalMetrics records resolution and wait metrics.
func WithApprovalMetrics(m *Metrics) ApprovalServiceOption {
	return func(s *ApprovalService) { s.metrics = m }
}

// WithApprovalClock overrides the clock used for resolution timestamps.
func WithApprovalClock(now func() time.Time) ApprovalServiceOption {
	return func(s *ApprovalService) { s.now = now }
}

// NewApprovalService creates an ApprovalService. A nil notifier leaves
// waiters on fixed-interval polling.
func NewApprovalService(store approval.Store, notifier approval.Notifier, cfg Config, logger *slog.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	s := &ApprovalService{
		store:    store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the approval request id owned by tenantID.
func (s *ApprovalService) Get(ctx context.Context, tenantID, id string) (*approval.ApprovalRequest, error) {
	if err := validateIDs(tenantID, id); err != nil {
		return nil, err
	}
	return s.store.GetApproval(ctx, tenantID, id)
}

// Approve moves a pending request to APPROVED.
func (s *ApprovalService) Approve(ctx context.Context, tenantID, id, approver string, comment *string) (*approval.ApprovalRequest, error) {
	return s.resolve(ctx, tenantID, id, approval.StatusApproved, approver, comment)
}

// Deny moves a pending request to DENIED.
func (s *ApprovalService) Deny(ctx context.Context, tenantID, id, approver string, comment *string) (*approval.ApprovalRequest, error) {
	return s.resolve(ctx, tenantID, id, approval.StatusDenied, approver, comment)
}

func (s *ApprovalService) resolve(ctx context.Context, tenantID, id string, status approval.Status, approver string, comment *string) (*approval.ApprovalRequest, error) {
	if err := validateIDs(tenantID, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver is required", approval.ErrInvalidInput)
	}

	ctx, span := traces.StartSpan(ctx, "approval.resolve", traces.TenantID(tenantID), traces.ApprovalID(id))
	defer span.End()

	resolved, err := s.store.ResolveApproval(ctx, tenantID, id, approval.Resolution{
		Status:     status,
		Approver:   approver,
		Comment:    comment,
		ResolvedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, approval.ErrAlreadyResolved) {
			s.metrics.resolution("conflict")
			s.logger.Info("approval already resolved", "approval_id", id, "error", err)
		}
		return nil, err
	}

	s.metrics.resolution(string(status))
	s.logger.Info("approval resolved",
		"tenant_id", tenantID,
		"approval_id", id,
		"evaluation_id", resolved.EvaluationID,
		"status", status,
		"approver", approver,
	)

	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, id); err != nil {
			s.logger.Warn("approval notification failed, waiters fall back to polling", "approval_id", id, "error", err)
		}
	}
	return resolved, nil
}

// AwaitResolution blocks until the request leaves PENDING, the timeout
// elapses, or ctx is done. It returns the resolved record, or nil with a nil
// error on timeout. When ctx ends first it returns ctx.Err(); the record is
// left as it is either way. A timeout <= 0 uses the configured WaitTimeout.
func (s *ApprovalService) AwaitResolution(ctx context.Context, tenantID, id string, timeout time.Duration) (*approval.ApprovalRequest, error) {
	if err := validateIDs(tenantID, id); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.cfg.WaitTimeout
	}

	ctx, span := traces.StartSpan(ctx, "approval.await", traces.TenantID(tenantID), traces.ApprovalID(id))
	defer span.End()
	start := time.Now()

	// Subscribe before the first read so a resolution between the read and
	// the select is not missed.
	var wake <-chan struct{}
	if s.notifier != nil {
		ch, cancel, err := s.notifier.Subscribe(ctx, id)
		if err != nil {
			s.logger.Warn("approval subscribe failed, polling only", "approval_id", id, "error", err)
		} else {
			defer cancel()
			wake = ch
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	expired := false
	for {
		a, err := s.store.GetApproval(ctx, tenantID, id)
		switch {
		case err == nil && a.Status.Terminal():
			s.metrics.wait("resolved", time.Since(start).Seconds())
			return a, nil
		case errors.Is(err, approval.ErrNotFound):
			return nil, err
		case err != nil && ctx.Err() == nil:
			s.logger.Warn("approval poll failed", "approval_id", id, "error", err)
		}

		if expired {
			s.metrics.wait("timeout", time.Since(start).Seconds())
			s.logger.Info("approval wait timed out", "approval_id", id, "timeout", timeout)
			return nil, nil
		}

		select {
		case <-ctx.Done():
			s.metrics.wait("abandoned", time.Since(start).Seconds())
			s.logger.Info("approval wait abandoned", "approval_id", id, "reason", ctx.Err())
			return nil, ctx.Err()
		case <-deadline.C:
			// One last read before giving up.
			expired = true
		case <-wake:
		case <-ticker.C:
		}
	}
}

func validateIDs(tenantID, id string) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("%w: tenant id %q", approval.ErrInvalidInput, tenantID)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: approval id %q", approval.ErrInvalidInput, id)
	}
	return nil
}
