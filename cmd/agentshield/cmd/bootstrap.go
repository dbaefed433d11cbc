package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agentshield/agentshield/internal/config"
	"github.com/agentshield/agentshield/internal/domain/auth"
	"github.com/agentshield/agentshield/internal/domain/policy"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create a tenant with an admin API key and the starter policy",
	Long: `Create a tenant: install the starter policy in the configured store and
generate an admin API key.

The key is printed once. Add the printed auth.api_keys entry to your config
file; only the hash is stored there.

Examples:
  agentshield bootstrap
  agentshield bootstrap --tenant-id 5f0c1d2e-3a4b-4c5d-8e6f-708192a3b4c5 --argon2id`,
	Args: cobra.NoArgs,
	RunE: runBootstrap,
}

var (
	bootstrapTenantID string
	bootstrapKeyName  string
	bootstrapArgon2id bool
)

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapTenantID, "tenant-id", "", "tenant id (default: a new uuid)")
	bootstrapCmd.Flags().StringVar(&bootstrapKeyName, "name", "admin", "name of the generated API key")
	bootstrapCmd.Flags().BoolVar(&bootstrapArgon2id, "argon2id", false, "hash the key with Argon2id instead of SHA-256")
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == "memory" {
		return errors.New("bootstrap needs a durable store; set storage.driver to sqlite or postgres")
	}
	logger := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := bootstrapTenant(ctx, store, bootstrapOptions{
		TenantID:  bootstrapTenantID,
		KeyName:   bootstrapKeyName,
		KeyPrefix: cfg.Auth.APIKeyPrefix,
		Argon2id:  bootstrapArgon2id,
	})
	if err != nil {
		return err
	}
	return printBootstrap(cmd.OutOrStdout(), res)
}

type bootstrapOptions struct {
	TenantID  string
	KeyName   string
	KeyPrefix string
	Argon2id  bool
}

type bootstrapResult struct {
	TenantID string
	APIKey   string
	Entry    config.APIKeyConfig
}

// bootstrapTenant installs the starter policy for a tenant and mints an
// admin key for it.
func bootstrapTenant(ctx context.Context, store policy.Store, opts bootstrapOptions) (*bootstrapResult, error) {
	tenantID := opts.TenantID
	if tenantID == "" {
		tenantID = uuid.NewString()
	} else if _, err := uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("tenant id %q is not a uuid", tenantID)
	}

	key, err := auth.GenerateKey(opts.KeyPrefix)
	if err != nil {
		return nil, err
	}
	hash := "sha256:" + auth.HashKey(key)
	if opts.Argon2id {
		if hash, err = auth.HashKeyArgon2id(key); err != nil {
			return nil, err
		}
	}

	if err := installStarterPolicy(ctx, store, tenantID); err != nil {
		return nil, err
	}

	return &bootstrapResult{
		TenantID: tenantID,
		APIKey:   key,
		Entry: config.APIKeyConfig{
			Name:     opts.KeyName,
			TenantID: tenantID,
			KeyHash:  hash,
			Scopes:   []string{auth.ScopeAdmin},
		},
	}, nil
}

func printBootstrap(w io.Writer, res *bootstrapResult) error {
	snippet, err := yaml.Marshal(map[string]any{
		"auth": map[string]any{
			"api_keys": []config.APIKeyConfig{res.Entry},
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "tenant_id: %s\n", res.TenantID)
	fmt.Fprintf(w, "api_key:   %s\n", res.APIKey)
	fmt.Fprintf(w, "\nThe key is shown only once. Add this to your config file:\n\n%s", snippet)
	return nil
}
