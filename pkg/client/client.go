package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to the gate's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	failOpen   bool
	actor      string
	agent      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. It reads AGENTSHIELD_URL, AGENTSHIELD_API_KEY and
// AGENTSHIELD_TIMEOUT by default; options override them.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: envOrDefault("AGENTSHIELD_URL", "http://127.0.0.1:8080"),
		apiKey:  os.Getenv("AGENTSHIELD_API_KEY"),
		timeout: parseDurationEnv("AGENTSHIELD_TIMEOUT", defaultTimeout),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Evaluate asks the gate for a decision. Every decision is returned as a
// response; only transport and API failures are errors.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if req.Actor == "" {
		req.Actor = c.actor
	}
	if req.Agent == "" {
		req.Agent = c.agent
	}

	var headers http.Header
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers = http.Header{"Idempotency-Key": []string{key}}
	}

	var resp EvaluateResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/evaluate", headers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetApproval returns the state of an approval request.
func (c *Client) GetApproval(ctx context.Context, id string) (*Approval, error) {
	var ap Approval
	if err := c.doRequest(ctx, http.MethodGet, "/v1/approvals/"+url.PathEscape(id), nil, nil, &ap); err != nil {
		return nil, err
	}
	return &ap, nil
}

// Approve resolves a pending approval as APPROVED. Needs an admin key.
func (c *Client) Approve(ctx context.Context, id, approver string, comment *string) (*Approval, error) {
	return c.resolve(ctx, id, "approve", approver, comment)
}

// Deny resolves a pending approval as DENIED. Needs an admin key.
func (c *Client) Deny(ctx context.Context, id, approver string, comment *string) (*Approval, error) {
	return c.resolve(ctx, id, "deny", approver, comment)
}

func (c *Client) resolve(ctx context.Context, id, action, approver string, comment *string) (*Approval, error) {
	var ap Approval
	path := fmt.Sprintf("/v1/approvals/%s/%s", url.PathEscape(id), action)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, resolveRequest{Approver: approver, Comment: comment}, &ap); err != nil {
		return nil, err
	}
	return &ap, nil
}

// doRequest performs an HTTP request against the gate.
func (c *Client) doRequest(ctx context.Context, method, path string, headers http.Header, body any, result any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", c.apiKey)
	}
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ServerUnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

// isUnreachable reports whether err is a transport failure rather than an answer.
func isUnreachable(err error) bool {
	return errors.Is(err, ErrServerUnreachable)
}
