package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/internal/adapter/outbound/cel"
	"github.com/agentshield/agentshield/internal/config"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Lint and apply policy bundles",
	Long: `Lint and apply policy bundles.

A bundle is a YAML or JSON file:

  tenant_id: 5f0c1d2e-3a4b-4c5d-8e6f-708192a3b4c5
  policies:
    - name: iam
      enabled: true
      dsl:
        rules:
          - name: deny-access-keys
            effect: DENY
            reason: Access keys are managed by the platform team
            match:
              equals: {action_type: aws_api, aws_service: iam}
              in: {aws_operation: [CreateAccessKey, UpdateAccessKey]}
          - name: risky-prod-agents
            effect: REQUIRE_APPROVAL
            match:
              cel: 'risk_score >= 30 && glob("prod-*", agent)'`,
}

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check a policy bundle without applying it",
	Args:  cobra.NoArgs,
	RunE:  runPolicyLint,
}

var policyApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a policy bundle to the configured store",
	Long: `Apply a policy bundle. Every policy is upserted by name; an existing
policy gets a new version. Nothing is written when any document is invalid.`,
	Args: cobra.NoArgs,
	RunE: runPolicyApply,
}

var (
	policyFile     string
	policyTenantID string
)

func init() {
	policyCmd.PersistentFlags().StringVarP(&policyFile, "file", "f", "", "policy bundle file (YAML or JSON)")
	_ = policyCmd.MarkPersistentFlagRequired("file")
	policyApplyCmd.Flags().StringVar(&policyTenantID, "tenant-id", "", "tenant id (overrides the bundle's tenant_id)")

	policyCmd.AddCommand(policyLintCmd, policyApplyCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyLint(cmd *cobra.Command, args []string) error {
	bundle, err := config.LoadPolicyBundle(policyFile)
	if err != nil {
		return err
	}
	compiler, err := cel.NewCompiler()
	if err != nil {
		return err
	}

	errs := bundle.Lint(compiler)
	out := cmd.OutOrStdout()
	for _, e := range errs {
		fmt.Fprintf(out, "%s: %v\n", policyFile, e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d problem(s) found", len(errs))
	}
	fmt.Fprintf(out, "%s: %d policies OK\n", policyFile, len(bundle.Policies))
	return nil
}

func runPolicyApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		return errors.New("policy apply needs a durable store; set storage.driver to sqlite or postgres")
	}
	logger := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)

	bundle, err := config.LoadPolicyBundle(policyFile)
	if err != nil {
		return err
	}
	compiler, err := cel.NewCompiler()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := applyBundle(ctx, store, bundle, policyTenantID, compiler)
	if err != nil {
		return err
	}
	tenantID := bundle.TenantID
	if policyTenantID != "" {
		tenantID = policyTenantID
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d policies for tenant %s\n", n, tenantID)
	return nil
}
