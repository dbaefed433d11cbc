// Package approval models the human-in-the-loop record attached to
// evaluations that require approval.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an approval request.
// PENDING moves once, to APPROVED or DENIED.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// Terminal reports whether s is a resolved state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// ApprovalRequest is the approval record for one evaluation.
type ApprovalRequest struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"-"`
	EvaluationID string     `json:"evaluation_id"`
	Status       Status     `json:"status"`
	Approver     *string    `json:"approver"`
	Comment      *string    `json:"comment"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`
}

// Clone returns a deep copy of a.
func (a *ApprovalRequest) Clone() *ApprovalRequest {
	if a == nil {
		return nil
	}
	c := *a
	if a.Approver != nil {
		v := *a.Approver
		c.Approver = &v
	}
	if a.Comment != nil {
		v := *a.Comment
		c.Comment = &v
	}
	if a.ResolvedAt != nil {
		v := *a.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}

// Resolution is the terminal transition applied to a pending request.
type Resolution struct {
	Status     Status
	Approver   string
	Comment    *string
	ResolvedAt time.Time
}

// Store reads and resolves approval requests. Creation happens together with
// the owning evaluation.
type Store interface {
	GetApproval(ctx context.Context, tenantID, id string) (*ApprovalRequest, error)
	GetApprovalByEvaluation(ctx context.Context, tenantID, evaluationID string) (*ApprovalRequest, error)
	// ResolveApproval applies res only if the request is still PENDING.
	// Otherwise it returns a *ConflictError and leaves the record untouched.
	ResolveApproval(ctx context.Context, tenantID, id string, res Resolution) (*ApprovalRequest, error)
}

// Notifier wakes waiters when an approval request is resolved.
type Notifier interface {
	// Subscribe returns a channel that receives after a Publish for id,
	// and a function releasing the subscription.
	Subscribe(ctx context.Context, id string) (<-chan struct{}, func(), error)
	Publish(ctx context.Context, id string) error
}

var (
	// ErrNotFound is returned when the approval does not exist for the tenant.
	ErrNotFound = errors.New("approval not found")
	// ErrAlreadyResolved is matched by every *ConflictError.
	ErrAlreadyResolved = errors.New("approval already resolved")
	// ErrInvalidInput is returned for malformed ids or resolutions.
	ErrInvalidInput = errors.New("invalid approval input")
)

// ConflictError reports an attempt to resolve a request that is no longer pending.
type ConflictError struct {
	Current Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("approval already %s", e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrAlreadyResolved
}
