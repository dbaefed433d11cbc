package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/internal/adapter/inbound/http"
	"github.com/agentshield/agentshield/internal/config"
	"github.com/agentshield/agentshield/internal/traces"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the AgentShield HTTP API.

Endpoints:
  POST /v1/evaluate                  evaluate an action
  GET  /v1/approvals/{id}            read an approval
  POST /v1/approvals/{id}/approve    approve (admin scope)
  POST /v1/approvals/{id}/deny       deny (admin scope)
  GET  /healthz, /readyz, /metrics

Examples:
  # In-memory storage, dev tenant, API key "dev-api-key", starter policy
  agentshield serve --dev

  # With a specific config file
  agentshield --config /etc/agentshield/agentshield.yaml serve`,
	RunE: runServe,
}

var serveDevMode bool

func init() {
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "Enable development mode (debug logging, in-memory storage, dev API key)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveDevMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("DEV MODE: do not use in production", "tenant_id", config.DevTenantID, "api_key", "dev-api-key")
	}

	shutdownTracing, err := traces.Init(ctx, traces.Options{
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Writer:         os.Stderr,
		ServiceVersion: Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	g, err := newGate(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer g.Close()

	authn, err := authenticatorFor(cfg)
	if err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}
	if authn.Len() == 0 {
		logger.Warn("no API keys configured; every /v1 request will be rejected")
	}

	server := http.NewServer(g.evaluations, g.approvals, authn,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithLogger(logger),
		http.WithRegistry(g.registry),
		http.WithHealthChecker(http.NewHealthChecker(g.pingers, Version)),
	)

	logger.Info("agentshield ready",
		"addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Driver,
		"api_keys", authn.Len(),
		"wait_timeout", cfg.Approval.WaitTimeout,
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("agentshield stopped")
	return nil
}
