package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/pkg/client"
)

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending approval request",
	Long: `Approve a pending approval request on a running gate. The API key needs
the admin scope.

Example:
  agentshield approve 0b9e... --approver alice --comment "rotating keys for INC-42"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd, args[0], (*client.Client).Approve)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <approval-id>",
	Short: "Deny a pending approval request",
	Long: `Deny a pending approval request on a running gate. The API key needs
the admin scope.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd, args[0], (*client.Client).Deny)
	},
}

var (
	resolveApprover string
	resolveComment  string
)

type resolveFunc func(c *client.Client, ctx context.Context, id, approver string, comment *string) (*client.Approval, error)

func init() {
	for _, c := range []*cobra.Command{approveCmd, denyCmd} {
		c.Flags().StringVar(&resolveApprover, "approver", "", "who is resolving the request")
		_ = c.MarkFlagRequired("approver")
		c.Flags().StringVar(&resolveComment, "comment", "", "optional comment stored with the resolution")
		remote.register(c)
		rootCmd.AddCommand(c)
	}
}

func runResolve(cmd *cobra.Command, id string, resolve resolveFunc) error {
	var comment *string
	if resolveComment != "" {
		comment = &resolveComment
	}

	ap, err := resolve(remote.client(), cmd.Context(), id, resolveApprover, comment)
	if err != nil {
		return err
	}
	printApproval(cmd.OutOrStdout(), ap)
	return nil
}

func printApproval(w io.Writer, ap *client.Approval) {
	c := color.New(color.FgYellow, color.Bold)
	switch ap.Status {
	case client.StatusApproved:
		c = color.New(color.FgGreen, color.Bold)
	case client.StatusDenied:
		c = color.New(color.FgRed, color.Bold)
	}
	c.Fprint(w, ap.Status)
	fmt.Fprintf(w, "  approval %s (evaluation %s)\n", ap.ID, ap.EvaluationID)
	if ap.Approver != nil {
		fmt.Fprintf(w, "  approver: %s\n", *ap.Approver)
	}
	if ap.Comment != nil {
		fmt.Fprintf(w, "  comment:  %s\n", *ap.Comment)
	}
}
