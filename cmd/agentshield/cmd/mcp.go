package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/internal/adapter/inbound/mcp"
	"github.com/agentshield/agentshield/internal/config"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the gate as MCP tools over stdio",
	Long: `Serve the gate to an MCP client over stdin/stdout. The tools act for a
single tenant:

  evaluate_action   evaluate an action and return the decision
  get_approval      read the state of an approval request

Logs are written to stderr; stdout carries the MCP stream.

Example MCP client entry:
  {"command": "agentshield", "args": ["mcp", "--tenant-id", "5f0c..."]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

var (
	mcpTenantID string
	mcpDevMode  bool
)

func init() {
	mcpCmd.Flags().StringVar(&mcpTenantID, "tenant-id", "", "tenant the tools act for (default in --dev: the dev tenant)")
	mcpCmd.Flags().BoolVar(&mcpDevMode, "dev", false, "Enable development mode (in-memory storage, starter policy)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(mcpDevMode)
	if err != nil {
		return err
	}

	tenantID := mcpTenantID
	if tenantID == "" && cfg.DevMode {
		tenantID = config.DevTenantID
	}
	if tenantID == "" {
		return errors.New("--tenant-id is required")
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("tenant id %q is not a uuid", tenantID)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)

	g, err := newGate(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer g.Close()

	server := mcp.NewServer(g.evaluations, g.approvals, tenantID, Version, logger)
	if err := server.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
