package main

import (
	"github.com/spf13/cobra"

	"github.com/meridian-tax/refund-cli/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve the distributed analysis task queue",
	Long:  "Registers the dataset workflow and row activities on the Temporal task queue and serves until interrupted. Every worker host needs the dataset and invoice directories mounted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		orchestrator, err := initOrchestrator(st)
		if err != nil {
			return err
		}

		return worker.Run(cfg, worker.NewActivities(cfg, orchestrator, st))
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
