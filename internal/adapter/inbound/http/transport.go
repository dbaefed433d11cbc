package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/agentshield/agentshield/internal/domain/auth"
	"github.com/agentshield/agentshield/internal/port/inbound"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the inbound adapter exposing the gate over HTTP.
type Server struct {
	handler        *Handler
	authn          *auth.Authenticator
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker

	// cancelRequests abandons in-flight approval waits on shutdown.
	cancelRequests context.CancelFunc
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the CORS allow-list. If empty, every request
// carrying an Origin header is rejected.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry sets the Prometheus registry served on /metrics. The engine
// metrics should be registered on the same registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithHealthChecker sets the checker behind /healthz and /readyz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// NewServer creates the HTTP server adapter.
func NewServer(evaluator inbound.Evaluator, approvals inbound.Approvals, authn *auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		authn:          authn,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker(nil, "")
	}
	s.metrics = NewMetrics(s.registry)
	s.handler = NewHandler(evaluator, approvals, s.logger)
	return s
}

// Handler builds the full middleware chain and route table.
//
// Middleware order (outermost first):
//  1. MetricsMiddleware - duration and status of the whole request
//  2. RequestID - request id and enriched logger
//  3. CORS - Origin allow-list and preflight
//  4. Auth - API key to principal (only on /v1)
func (s *Server) Handler() http.Handler {
	api := AuthMiddleware(s.authn, s.metrics)(s.handler.Routes())

	mux := http.NewServeMux()
	mux.Handle("/v1/", api)
	mux.Handle("GET /healthz", s.healthChecker.LivenessHandler())
	mux.Handle("GET /readyz", s.healthChecker.ReadinessHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	var handler http.Handler = mux
	handler = CORSMiddleware(s.allowedOrigins)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	return handler
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRequests = cancel

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	tlsEnabled := s.certFile != "" && s.keyFile != ""
	if tlsEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			s.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = s.server.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		cancel()
		return err
	}
}

// shutdown abandons approval waits, then drains connections.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.cancelRequests()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}
