package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/drops/internal/config"
	"github.com/systmms/drops/internal/orchestrator"
	"github.com/systmms/drops/internal/orchestrator/checkpoint"
)

func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		pairName   string
		limit      int
		stateDir   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past failover runs",
		Long: `List archived failover runs, newest first. Reads the local run store, so
it works whether or not the orchestrator is running.

Examples:
  # Last ten runs across all pairs
  drops history

  # Full audit trail for one pair
  drops history --pair checkout --limit 50 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			if pairName != "" {
				if _, err := cfg.GetPair(pairName); err != nil {
					return err
				}
			}

			store := checkpoint.NewFileStore(storeDir(cfg, stateDir))

			var (
				runs []*orchestrator.Run
				err  error
			)
			if pairName != "" {
				runs, err = store.History(pairName, limit)
			} else {
				runs, err = store.AllHistory(limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, run := range runs {
				testMarker := ""
				if run.Request.TestMode {
					testMarker = " [drill]"
				}
				fmt.Fprintf(out, "%s  %-20s %-12s %s%s (%s, %s)\n",
					run.StartedAt.Format(time.RFC3339), run.Pair, run.Outcome(),
					run.Request.ID, testMarker, run.Request.Reason,
					run.Duration().Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pairName, "pair", "", "Limit history to one pair")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory for run checkpoints and history")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
