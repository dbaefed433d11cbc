package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate the hash of an API key for use in config.

The default output format is "sha256:<hex>"; with --argon2id it is an
Argon2id PHC string. Either can be used in the auth.api_keys key_hash field.

Example:
  agentshield hash-key "ash_live_..."
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  agentshield hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashAPIKey(args[0], hashKeyArgon2id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var hashKeyArgon2id bool

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "output an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}

func hashAPIKey(key string, argon bool) (string, error) {
	if argon {
		return auth.HashKeyArgon2id(key)
	}
	return "sha256:" + auth.HashKey(key), nil
}
