package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentshield/agentshield/pkg/client"
)

// errNotAllowed makes check exit non-zero for DENY and REQUIRE_APPROVAL.
var errNotAllowed = errors.New("action not allowed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask a running gate for a decision on an action",
	Long: `Send an action to a running gate and print the decision. Exits non-zero
unless the decision is ALLOW.

The action file holds an evaluate request, e.g.:

  {"action_type": "aws_api", "aws_service": "iam", "aws_operation": "CreateAccessKey"}

Examples:
  agentshield check --api-key dev-api-key --file action.json
  echo '{"action_type":"tool_call","tool_name":"shell","tool_args":{"cmd":"ls"}}' | agentshield check -f - --wait`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var (
	checkFile           string
	checkWait           bool
	checkIdempotencyKey string
	remote              remoteFlags
)

// remoteFlags configure the API client for commands that talk to a running gate.
type remoteFlags struct {
	url     string
	apiKey  string
	timeout time.Duration
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "gate URL (default: $AGENTSHIELD_URL or http://127.0.0.1:8080)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (default: $AGENTSHIELD_API_KEY)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "request timeout (default: $AGENTSHIELD_TIMEOUT or 30s)")
}

func (f *remoteFlags) client() *client.Client {
	var opts []client.Option
	if f.url != "" {
		opts = append(opts, client.WithBaseURL(f.url))
	}
	if f.apiKey != "" {
		opts = append(opts, client.WithAPIKey(f.apiKey))
	}
	if f.timeout > 0 {
		opts = append(opts, client.WithTimeout(f.timeout))
	}
	return client.New(opts...)
}

func init() {
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", `action JSON file ("-" for stdin)`)
	_ = checkCmd.MarkFlagRequired("file")
	checkCmd.Flags().BoolVar(&checkWait, "wait", false, "wait for a pending approval to be resolved")
	checkCmd.Flags().StringVar(&checkIdempotencyKey, "idempotency-key", "", "Idempotency-Key header for safe retries")
	remote.register(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	req, err := readAction(cmd.InOrStdin(), checkFile)
	if err != nil {
		return err
	}
	if checkWait {
		req.WaitForApproval = true
	}
	if checkIdempotencyKey != "" {
		req.IdempotencyKey = checkIdempotencyKey
	}

	resp, err := remote.client().Evaluate(cmd.Context(), req)
	if err != nil {
		return err
	}

	printDecision(cmd.OutOrStdout(), resp)
	if resp.Decision != client.DecisionAllow {
		return fmt.Errorf("%w: %s", errNotAllowed, resp.Decision)
	}
	return nil
}

func readAction(stdin io.Reader, path string) (client.EvaluateRequest, error) {
	var req client.EvaluateRequest

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, fmt.Errorf("read action: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse action %s: %w", path, err)
	}
	return req, nil
}

func decisionColor(d client.Decision) *color.Color {
	switch d {
	case client.DecisionAllow:
		return color.New(color.FgGreen, color.Bold)
	case client.DecisionRequireApproval:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func printDecision(w io.Writer, resp *client.EvaluateResponse) {
	decisionColor(resp.Decision).Fprint(w, resp.Decision)
	fmt.Fprintf(w, "  risk %d  %s\n", resp.RiskScore, resp.Reason)

	if len(resp.RiskSignals) > 0 {
		fmt.Fprintf(w, "  signals:    %s\n", strings.Join(resp.RiskSignals, ", "))
	}
	if len(resp.PolicyHits) > 0 {
		hits := make([]string, 0, len(resp.PolicyHits))
		for _, h := range resp.PolicyHits {
			hits = append(hits, fmt.Sprintf("%s/%s (%s)", h.Policy, h.Rule, h.Effect))
		}
		fmt.Fprintf(w, "  hits:       %s\n", strings.Join(hits, ", "))
	}
	fmt.Fprintf(w, "  evaluation: %s\n", resp.EvaluationID)
	if resp.ApprovalID != nil {
		fmt.Fprintf(w, "  approval:   %s\n", *resp.ApprovalID)
	}
}
