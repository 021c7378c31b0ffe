package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/drops/internal/config"
	droerrors "github.com/systmms/drops/internal/errors"
)

func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var (
		server     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pair health and active runs",
		Long: `Query a running orchestrator for the health of every watched pair, the
latest run per pair, and any requests that could not be processed.

Examples:
  drops status
  drops status --json | jq '.pairs'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(server + "/status")
			if err != nil {
				return droerrors.UserError{
					Message:    "Failed to reach the orchestrator",
					Suggestion: fmt.Sprintf("Check that 'drops serve' is running and reachable at %s, or use --server", server),
					Err:        err,
				}
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("orchestrator returned %s", resp.Status)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				fmt.Fprintln(out, string(body))
				return nil
			}

			var status struct {
				Pairs map[string]string `json:"pairs"`
				Runs  []struct {
					Pair  string `json:"pair"`
					State string `json:"state"`
					Request struct {
						ID     string `json:"id"`
						Reason string `json:"reason"`
					} `json:"request"`
					StartedAt time.Time `json:"startedAt"`
				} `json:"runs"`
				DeadLetters []struct {
					Request struct {
						ID   string `json:"id"`
						Pair string `json:"pair"`
					} `json:"request"`
				} `json:"deadLetters"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return fmt.Errorf("failed to parse status response: %w", err)
			}

			names := make([]string, 0, len(status.Pairs))
			for name := range status.Pairs {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintln(out, "Pairs:")
			for _, name := range names {
				fmt.Fprintf(out, "  %-20s %s\n", name, status.Pairs[name])
			}
			if len(status.Runs) > 0 {
				fmt.Fprintln(out, "\nRuns:")
				for _, run := range status.Runs {
					fmt.Fprintf(out, "  %-20s %-16s %s (%s, started %s)\n",
						run.Pair, run.State, run.Request.ID, run.Request.Reason,
						run.StartedAt.Format(time.RFC3339))
				}
			}
			if len(status.DeadLetters) > 0 {
				fmt.Fprintln(out, "\nDead letters:")
				for _, letter := range status.DeadLetters {
					fmt.Fprintf(out, "  %-20s %s\n", letter.Request.Pair, letter.Request.ID)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:9090", "Orchestrator admin endpoint")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw JSON response")

	return cmd
}
