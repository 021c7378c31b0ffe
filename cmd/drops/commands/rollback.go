package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/drops/internal/config"
	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/orchestrator"
	"github.com/systmms/drops/internal/orchestrator/checkpoint"
	"github.com/systmms/drops/internal/scaler"
)

func NewRollbackCommand(cfg *config.Config) *cobra.Command {
	var (
		requestID  string
		namespace  string
		kubeconfig string
		stateDir   string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Finish the rollback of a failed run",
		Long: `Retry the unfinished compensations of a run that ended in the Failed
state. The compensation stack is rebuilt from the persisted run record, so
this works after the orchestrator has restarted or crashed.

Run 'drops status' or check the serve logs for the request ID of the failed
run.

Examples:
  drops rollback --request-id 2f1c9a4e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return droerrors.UserError{
					Message:    "Request ID is required",
					Suggestion: "Use --request-id <id>; failed runs are listed at startup and in 'drops history'",
				}
			}
			if err := cfg.Load(); err != nil {
				return err
			}

			store := checkpoint.NewFileStore(storeDir(cfg, stateDir))
			pending, err := store.LoadPending()
			if err != nil {
				return err
			}
			var failed *orchestrator.Run
			for _, run := range pending {
				if run.Request.ID == requestID {
					failed = run
					break
				}
			}
			if failed == nil {
				return droerrors.UserError{
					Message:    fmt.Sprintf("No pending run with ID %s", requestID),
					Suggestion: "Use 'drops history --json' to check whether the run already settled",
				}
			}
			if failed.State != orchestrator.StateFailed {
				return droerrors.UserError{
					Message:    fmt.Sprintf("Run %s is in state %s, not Failed", requestID, failed.State),
					Suggestion: "Only failed runs have compensations left to retry",
				}
			}

			client, err := scaler.NewClientset(kubeconfig)
			if err != nil {
				return droerrors.UserError{
					Message:    "Failed to connect to Kubernetes",
					Suggestion: "Check your kubeconfig path or use --kubeconfig",
					Err:        err,
				}
			}
			trafficRouter, err := buildRouter(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			engine := buildEngine(cfg, namespace, engineDeps{
				client: client,
				router: trafficRouter,
				store:  store,
			})

			cfg.Logger.Info("retrying %d compensations for run %s (pair %s)",
				len(failed.RemainingCompensations), requestID, failed.Pair)
			if err := engine.ResumeRollback(cmd.Context(), failed); err != nil {
				return err
			}
			cfg.Logger.Info("✓ pair %s restored, lease released", failed.Pair)
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "ID of the failed run to roll back")
	cmd.Flags().StringVar(&namespace, "namespace", "drops", "Kubernetes namespace for recovery workloads")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: ~/.kube/config)")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory for run checkpoints and history")

	return cmd
}
