package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/auth"
	"github.com/agentshield/agentshield/internal/domain/evaluation"
	"github.com/agentshield/agentshield/internal/port/inbound"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// IdempotencyKeyHeader carries the idempotency token of an evaluate call.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler serves the /v1 API. Every route expects an authenticated
// principal in the request context.
type Handler struct {
	evaluator inbound.Evaluator
	approvals inbound.Approvals
	logger    *slog.Logger
}

// NewHandler creates the /v1 API handler.
func NewHandler(evaluator inbound.Evaluator, approvals inbound.Approvals, logger *slog.Logger) *Handler {
	return &Handler{evaluator: evaluator, approvals: approvals, logger: logger}
}

// approvalActionRequest is the body of approve and deny.
type approvalActionRequest struct {
	Approver string  `json:"approver"`
	Comment  *string `json:"comment"`
}

// Routes returns a mux with the /v1 routes registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", h.handleEvaluate)
	mux.HandleFunc("GET /v1/approvals/{id}", h.handleGetApproval)
	mux.HandleFunc("POST /v1/approvals/{id}/approve", requireScope(auth.ScopeAdmin, h.handleApprove))
	mux.HandleFunc("POST /v1/approvals/{id}/deny", requireScope(auth.ScopeAdmin, h.handleDeny))
	return mux
}

// handleEvaluate runs the evaluation pipeline.
// POST /v1/evaluate
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluation.Request
	if err := h.readJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenantID := PrincipalFromContext(r.Context()).TenantID
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	resp, err := h.evaluator.Evaluate(r.Context(), tenantID, key, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// handleGetApproval returns an approval request of the caller's tenant.
// GET /v1/approvals/{id}
func (h *Handler) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	tenantID := PrincipalFromContext(r.Context()).TenantID

	ap, err := h.approvals.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ap)
}

// handleApprove resolves an approval request as APPROVED.
// POST /v1/approvals/{id}/approve
func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.approvals.Approve)
}

// handleDeny resolves an approval request as DENIED.
// POST /v1/approvals/{id}/deny
func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.approvals.Deny)
}

type resolveFunc func(ctx context.Context, tenantID, id, approver string, comment *string) (*approval.ApprovalRequest, error)

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, fn resolveFunc) {
	var body approvalActionRequest
	if err := h.readJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	principal := PrincipalFromContext(r.Context())
	ap, err := fn(r.Context(), principal.TenantID, r.PathValue("id"), body.Approver, body.Comment)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	LoggerFromContext(r.Context()).Info("approval resolved via api",
		"approval_id", ap.ID,
		"status", ap.Status,
		"key_name", principal.KeyName,
	)
	h.respondJSON(w, http.StatusOK, ap)
}

// respondServiceError maps service errors to HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := LoggerFromContext(r.Context())

	var conflict *approval.ConflictError
	switch {
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, fmt.Sprintf("Approval already %s", conflict.Current))
	case errors.Is(err, approval.ErrNotFound):
		respondError(w, http.StatusNotFound, "Approval not found")
	case errors.Is(err, evaluation.ErrInvalidInput), errors.Is(err, approval.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		logger.Debug("client went away", "path", r.URL.Path)
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readJSON decodes a size-limited request body into v.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
