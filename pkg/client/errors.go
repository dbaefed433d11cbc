package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrDenied is matched by *DeniedError.
	ErrDenied = errors.New("action denied")

	// ErrApprovalRequired is matched by *ApprovalRequiredError.
	ErrApprovalRequired = errors.New("approval required")

	// ErrUnauthorized is matched by *APIError for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is matched by *APIError for 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrConflict is matched by *APIError for 409 responses.
	ErrConflict = errors.New("conflict")

	// ErrServerUnreachable is returned when the gate cannot be contacted.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is a non-2xx answer from the gate.
type APIError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Message is the server's error message.
	Message string
}

// Error returns the error message.
func (e *APIError) Error() string {
	return fmt.Sprintf("agentshield: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Is maps HTTP statuses onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// DeniedError is returned by Guard when the decision is DENY.
type DeniedError struct {
	Reason       string
	RiskScore    int
	EvaluationID string
}

// Error returns a human-readable description of the denial.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("action denied: %s (risk %d)", e.Reason, e.RiskScore)
}

// Is supports errors.Is(err, ErrDenied).
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// ApprovalRequiredError is returned by Guard when the action waits on a human.
type ApprovalRequiredError struct {
	ApprovalID   string
	Reason       string
	EvaluationID string
}

// Error returns a human-readable description including the approval id.
func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval required: %s (approval_id=%s)", e.Reason, e.ApprovalID)
}

// Is supports errors.Is(err, ErrApprovalRequired).
func (e *ApprovalRequiredError) Is(target error) bool {
	return target == ErrApprovalRequired
}

// ServerUnreachableError wraps a transport failure.
type ServerUnreachableError struct {
	Cause error
}

// Error returns a human-readable description of the server unreachable error.
func (e *ServerUnreachableError) Error() string {
	return fmt.Sprintf("server unreachable: %v", e.Cause)
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
