// Package cmd provides the CLI commands for AgentShield.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentshield",
	Short: "AgentShield - action gate for AI agents",
	Long: `AgentShield decides whether an action proposed by an AI agent may run.

Every action (tool call, cloud API call, generated code) is risk scored and
matched against the tenant's policies. The answer is ALLOW, DENY, or
REQUIRE_APPROVAL; pending approvals are resolved by a human over the API.

Quick start:
  1. Run: agentshield serve --dev
  2. Run: agentshield check --api-key dev-api-key --file action.json

Configuration:
  Config is loaded from agentshield.yaml in the current directory,
  $HOME/.agentshield/, or /etc/agentshield/. A .env file in the current
  directory is read first.

  Environment variables can override config values with the AGENTSHIELD_ prefix.
  Example: AGENTSHIELD_SERVER_HTTP_ADDR=:9090`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.InitViper(cfgFile)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agentshield.yaml)")
}

// loadConfig reads and validates the configuration. dev forces dev mode
// before dev defaults and validation are applied.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr so stdout stays
// free for command output and the MCP stream.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLogLevel converts a string log level to slog.Level.
// Defaults to Info if the level is not recognized.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
