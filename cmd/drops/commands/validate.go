package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/drops/internal/config"
)

func NewValidateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the drops.yaml configuration",
		Long: `Load and validate the configuration, then print a summary of every
failover pair. Exits non-zero when the config is invalid.

Examples:
  drops validate
  drops validate --config deploy/drops.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			settings := cfg.Definition.Orchestrator
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config %s is valid\n\n", cfg.Path)
			fmt.Fprintf(out, "Orchestrator: fail threshold %d, RTO budget %s, rollback grace %s\n",
				settings.FailThreshold, settings.RTOBudget(), settings.RollbackGrace())
			fmt.Fprintf(out, "Replicas: canary %d, full %d\n\n", settings.CanaryReplicas, settings.FullReplicas)

			for _, name := range pairNamesSorted(cfg) {
				pair := cfg.Definition.Pairs[name]
				provider := pair.Routing.Provider
				if provider == "" {
					provider = "static"
				}
				fmt.Fprintf(out, "Pair %s:\n", name)
				fmt.Fprintf(out, "  service:   %s\n", pair.Service)
				fmt.Fprintf(out, "  primary:   %s (%d checks)\n", pair.Primary.Name, len(pair.Primary.Checks))
				fmt.Fprintf(out, "  recovery:  %s (%d checks)\n", pair.Recovery.Name, len(pair.Recovery.Checks))
				fmt.Fprintf(out, "  routing:   %s\n", provider)
				if len(pair.Primary.Checks) == 0 {
					fmt.Fprintf(out, "  ⚠ no primary checks: outage detection disabled for this pair\n")
				}
				if len(pair.Recovery.Checks) == 0 {
					fmt.Fprintf(out, "  ⚠ no recovery checks: canary validation will pass trivially\n")
				}
			}

			if len(cfg.Definition.Notifications) == 0 {
				fmt.Fprintln(out, "\n⚠ No notification targets configured; operators will not be alerted")
			}
			return nil
		},
	}

	return cmd
}
