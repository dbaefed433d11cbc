package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/internal/adapter/outbound/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status|version]",
	Short: "Manage the database schema",
	Long: `Apply or inspect the embedded schema migrations for the configured
sqlite or postgres store. serve also applies pending migrations at startup.

Examples:
  agentshield migrate            # same as "migrate up"
  agentshield migrate status
  AGENTSHIELD_STORAGE_DRIVER=postgres AGENTSHIELD_STORAGE_DSN=postgres://... agentshield migrate up`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "status", "version"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx := cmd.Context()
	store, err := openSQLStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return migrate(cmd, store, direction)
}

func migrate(cmd *cobra.Command, store *sqlstore.Store, direction string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch direction {
	case "up":
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	case "down":
		if err := store.MigrateDown(ctx); err != nil {
			return err
		}
	case "status":
		statuses, err := store.MigrationStatus(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Fprintf(out, "%05d  %-8s %s\n", st.Version, state, st.Path)
		}
		return nil
	case "version":
	default:
		return fmt.Errorf("unknown migrate command %q (want up, down, status or version)", direction)
	}

	v, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version: %d\n", v)
	return nil
}
