package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/drops/internal/config"
	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/events"
)

func NewTriggerCommand(cfg *config.Config) *cobra.Command {
	var (
		pairName string
		reason   string
		testMode bool
		confirm  bool
		server   string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Request a failover for a pair",
		Long: `Send a failover request to a running orchestrator.

With --test the run walks the full pipeline (reserve capacity, canary,
validation, full scale-up) but verifies the traffic change instead of
applying it, then rolls everything back. Use it for drills.

Examples:
  # Fail over the checkout pair
  drops trigger --pair checkout --reason "us-east-1 outage" --confirm

  # Run a drill without touching live traffic
  drops trigger --pair checkout --reason "quarterly drill" --test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pairName == "" {
				return droerrors.UserError{
					Message:    "Pair name is required",
					Suggestion: "Use --pair <pair-name> to specify which pair to fail over",
				}
			}
			if reason == "" {
				return droerrors.UserError{
					Message:    "A reason is required",
					Suggestion: "Use --reason to record why this failover was triggered",
				}
			}
			if !testMode && !confirm {
				return droerrors.UserError{
					Message:    "A live failover moves production traffic",
					Suggestion: "Re-run with --confirm to proceed, or --test for a drill",
				}
			}

			// Validate the pair locally before bothering the server.
			if err := cfg.Load(); err == nil {
				if _, err := cfg.GetPair(pairName); err != nil {
					return err
				}
			}

			req := events.NewFailoverRequest(pairName, reason, testMode)
			body, err := req.Encode()
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(server+"/trigger", "application/json", bytes.NewReader(body))
			if err != nil {
				return droerrors.UserError{
					Message:    "Failed to reach the orchestrator",
					Suggestion: fmt.Sprintf("Check that 'drops serve' is running and reachable at %s, or use --server", server),
					Err:        err,
				}
			}
			defer resp.Body.Close()

			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			if resp.StatusCode != http.StatusAccepted {
				return droerrors.UserError{
					Message:    fmt.Sprintf("Orchestrator rejected the request (%s)", resp.Status),
					Suggestion: "Check 'drops status' for an active run on this pair",
					Details:    string(bytes.TrimSpace(respBody)),
				}
			}

			var accepted struct {
				ID   string `json:"id"`
				Pair string `json:"pair"`
			}
			if err := json.Unmarshal(respBody, &accepted); err != nil {
				accepted.ID = req.ID
			}

			cfg.Logger.Info("✓ failover request %s accepted for pair %s", accepted.ID, pairName)
			if testMode {
				cfg.Logger.Info("test mode: traffic will not be changed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), accepted.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&pairName, "pair", "", "Failover pair to promote")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the failover is being triggered")
	cmd.Flags().BoolVar(&testMode, "test", false, "Drill: verify the traffic change and roll back")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Acknowledge that live traffic will move")
	cmd.Flags().StringVar(&server, "server", "http://localhost:9090", "Orchestrator admin endpoint")

	return cmd
}
