// Package http exposes the action gate over a JSON HTTP API.
//
// # Endpoints
//
//	POST /v1/evaluate                 - evaluate a proposed agent action
//	GET  /v1/approvals/{id}           - approval status
//	POST /v1/approvals/{id}/approve   - resolve as APPROVED (admin scope)
//	POST /v1/approvals/{id}/deny      - resolve as DENIED (admin scope)
//	GET  /healthz                     - liveness
//	GET  /readyz                      - readiness (store, notifier)
//	GET  /metrics                     - Prometheus metrics
//
// # Request Headers
//
//	X-Api-Key: <api-key>              - tenant API key (or Authorization: Bearer <api-key>)
//	Idempotency-Key: <token>          - replays the first evaluation stored under the token
//	X-Request-ID: <id>                - echoed back, generated when absent
//
// # Errors
//
// Errors are JSON objects of the form {"error": "..."}: 400 for malformed
// bodies and identifiers, 401 for a missing or unknown key, 403 for a missing
// scope or disallowed Origin, 404 for an unknown approval, 409 when an
// approval is already resolved, 500 otherwise.
//
// A wait_for_approval evaluation holds the request open until the approval
// resolves or the wait timeout elapses. Shutting the server down abandons
// such waits; the approval stays PENDING.
package http
