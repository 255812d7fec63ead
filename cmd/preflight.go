package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-tax/refund-cli/internal/analyze"
)

var preflightDataset string

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check a dataset and configuration before spending reasoning calls",
	RunE: func(cmd *cobra.Command, _ []string) error {
		problems := analyze.Preflight(cmd.Context(), cfg, preflightDataset)
		if len(problems) == 0 {
			fmt.Printf("preflight ok: %s\n", preflightDataset)
			return nil
		}

		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "problem: %s\n", p)
		}
		return eris.Errorf("preflight found %d problem(s)", len(problems))
	},
}

func init() {
	preflightCmd.Flags().StringVar(&preflightDataset, "dataset", "", "dataset name (required)")
	_ = preflightCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(preflightCmd)
}
