package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/rules"
)

var validateDataset string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-check decisions already written to a dataset",
	Long:  "Reads every analyzed row's output columns and re-runs the persisted-field checks: decision enum, citation families, confidence range, refund sign.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry := dataset.NewRegistry(cfg.Datasets)

		decisions, err := registry.ReadDecisions(validateDataset)
		if err != nil {
			return err
		}
		if len(decisions) == 0 {
			fmt.Fprintln(os.Stderr, "No analyzed rows found.")
			return nil
		}

		failures := 0
		for _, d := range decisions {
			violations := rules.ValidateWritten(d.Record)
			if len(violations) == 0 {
				continue
			}
			failures++
			for _, v := range violations {
				fmt.Fprintf(os.Stderr, "row %d (%s): %s\n", d.RowIndex, d.Vendor, v)
			}
		}

		fmt.Printf("validated %d analyzed row(s), %d with problems\n", len(decisions), failures)
		if failures > 0 {
			return eris.Errorf("validate: %d row(s) failed", failures)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateDataset, "dataset", "", "dataset name (required)")
	_ = validateCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(validateCmd)
}
