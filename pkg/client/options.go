package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL sets the gate address, e.g. "http://127.0.0.1:8080".
// If not set, defaults to the AGENTSHIELD_URL environment variable.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIKey sets the tenant API key.
// If not set, defaults to the AGENTSHIELD_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the HTTP request timeout. Requests that wait for approval
// need a timeout longer than the server's wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithFailOpen makes Guard run the action when the gate is unreachable.
// The default is to fail closed.
func WithFailOpen() Option {
	return func(c *Client) {
		c.failOpen = true
	}
}

// WithActor sets the default actor for requests that do not name one.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// WithAgent sets the default agent for requests that do not name one.
func WithAgent(agent string) Option {
	return func(c *Client) {
		c.agent = agent
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
