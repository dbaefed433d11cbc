package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentshield/agentshield/internal/adapter/inbound/http"
	"github.com/agentshield/agentshield/internal/adapter/outbound/cel"
	"github.com/agentshield/agentshield/internal/adapter/outbound/memory"
	"github.com/agentshield/agentshield/internal/adapter/outbound/redisnotify"
	"github.com/agentshield/agentshield/internal/adapter/outbound/sqlstore"
	"github.com/agentshield/agentshield/internal/config"
	"github.com/agentshield/agentshield/internal/domain/approval"
	"github.com/agentshield/agentshield/internal/domain/auth"
	"github.com/agentshield/agentshield/internal/domain/policy"
	"github.com/agentshield/agentshield/internal/port/outbound"
	"github.com/agentshield/agentshield/internal/service"
)

// gate holds the wired engine shared by serve and mcp.
type gate struct {
	store       outbound.Store
	notifier    approval.Notifier
	approvals   *service.ApprovalService
	evaluations *service.EvaluationService
	compiler    *cel.Compiler
	registry    *prometheus.Registry
	pingers     map[string]http.Pinger
	closers     []func() error
	logger      *slog.Logger
}

// newGate opens storage and the notifier, then builds the services.
// Policies from dev mode and policies_file are applied before it returns.
func newGate(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *gate, err error) {
	g := &gate{
		registry: prometheus.NewRegistry(),
		pingers:  make(map[string]http.Pinger),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			g.Close()
		}
	}()

	g.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	g.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, g.store.Close)
	g.pingers["store"] = g.store

	if cfg.Notifier.RedisURL != "" {
		rn, err := redisnotify.New(ctx, cfg.Notifier.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start redis notifier: %w", err)
		}
		g.notifier = rn
		g.closers = append(g.closers, rn.Close)
		g.pingers["redis"] = rn
	} else {
		g.notifier = memory.NewNotifier()
	}

	g.compiler, err = cel.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition compiler: %w", err)
	}

	metrics := service.NewMetrics(g.registry)
	svcCfg := cfg.ServiceConfig()
	g.approvals = service.NewApprovalService(g.store, g.notifier, svcCfg, logger,
		service.WithApprovalMetrics(metrics),
	)
	g.evaluations = service.NewEvaluationService(g.store, g.approvals, svcCfg, logger,
		service.WithConditionCompiler(g.compiler),
		service.WithEvaluationMetrics(metrics),
	)

	if err := g.applyConfiguredPolicies(ctx, cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// Close releases storage and notifier connections in reverse order.
func (g *gate) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			g.logger.Warn("error during close", "error", err)
		}
	}
	g.closers = nil
}

func (g *gate) applyConfiguredPolicies(ctx context.Context, cfg *config.Config) error {
	if cfg.DevMode {
		if err := installStarterPolicy(ctx, g.store, config.DevTenantID); err != nil {
			return err
		}
		g.logger.Info("dev mode: starter policy installed", "tenant_id", config.DevTenantID)
	}

	if cfg.PoliciesFile == "" {
		return nil
	}
	bundle, err := config.LoadPolicyBundle(cfg.PoliciesFile)
	if err != nil {
		return err
	}
	n, err := applyBundle(ctx, g.store, bundle, "", g.compiler)
	if err != nil {
		return fmt.Errorf("policies_file %s: %w", cfg.PoliciesFile, err)
	}
	g.logger.Info("policy bundle applied", "file", cfg.PoliciesFile, "tenant_id", bundle.TenantID, "policies", n)
	return nil
}

// openStore returns the configured store with migrations applied.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (outbound.Store, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory storage; evaluations and approvals are lost on exit")
		return memory.NewStore(), nil
	}

	s, err := openSQLStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to migrate %s store: %w", cfg.Storage.Driver, err)
	}
	return s, nil
}

func openSQLStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqlstore.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return nil, errors.New("storage.driver is memory; nothing to migrate")
	}
	s, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Storage.Driver), cfg.Storage.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

func installStarterPolicy(ctx context.Context, store policy.Store, tenantID string) error {
	if _, err := store.UpsertPolicy(ctx, tenantID, policy.StarterPolicyName, true, policy.StarterDocument); err != nil {
		return fmt.Errorf("failed to install starter policy: %w", err)
	}
	return nil
}

// applyBundle lints the whole bundle, then upserts every policy. A non-empty
// tenantID overrides the bundle's own.
func applyBundle(ctx context.Context, store policy.Store, bundle *config.PolicyBundle, tenantID string, compiler policy.ConditionCompiler) (int, error) {
	if tenantID != "" {
		bundle.TenantID = tenantID
	}
	if bundle.TenantID == "" {
		return 0, errors.New("tenant_id is required")
	}
	if errs := bundle.Lint(compiler); len(errs) > 0 {
		return 0, errors.Join(errs...)
	}

	for _, p := range bundle.Policies {
		doc, err := p.Document()
		if err != nil {
			return 0, err
		}
		if _, err := store.UpsertPolicy(ctx, bundle.TenantID, p.Name, p.IsEnabled(), doc); err != nil {
			return 0, fmt.Errorf("upsert policy %s: %w", p.Name, err)
		}
	}
	return len(bundle.Policies), nil
}

// authenticatorFor converts the configured keys.
func authenticatorFor(cfg *config.Config) (*auth.Authenticator, error) {
	keys := make([]auth.APIKey, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, auth.APIKey{
			Name:     k.Name,
			TenantID: k.TenantID,
			KeyHash:  k.KeyHash,
			Scopes:   k.Scopes,
		})
	}
	return auth.NewAuthenticator(keys)
}
