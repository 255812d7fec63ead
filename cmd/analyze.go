package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-tax/refund-cli/internal/analyze"
)

var (
	analyzeDataset string
	analyzeLimit   int
	analyzeRow     int
	analyzeVendor  string
	analyzeDryRun  bool
	analyzeNoWrite bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a dataset's unanalyzed rows and write decisions back",
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

		opts := analyze.RunOptions{
			Limit:   analyzeLimit,
			Vendor:  analyzeVendor,
			DryRun:  analyzeDryRun,
			NoWrite: analyzeNoWrite,
		}
		if cmd.Flags().Changed("row") {
			opts.Row = &analyzeRow
		}

		summary, err := orchestrator.Run(ctx, analyzeDataset, opts)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.AmericanEnglish)
		fmt.Printf("run %s: %d rows, %d accepted, %d fallback, %d skipped, refund total %s\n",
			summary.RunID, summary.RowsTotal, summary.Accepted, summary.Fallbacks, summary.Skipped,
			p.Sprintf("$%.2f", summary.RefundTotal))
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDataset, "dataset", "", "dataset name (required)")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "max rows to analyze (0 = all)")
	analyzeCmd.Flags().IntVar(&analyzeRow, "row", 0, "analyze a single zero-based row index")
	analyzeCmd.Flags().StringVar(&analyzeVendor, "vendor", "", "only rows whose vendor contains this substring")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "analyze without writing the spreadsheet")
	analyzeCmd.Flags().BoolVar(&analyzeNoWrite, "no-write", false, "record events but skip the spreadsheet write")
	_ = analyzeCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(analyzeCmd)
}
