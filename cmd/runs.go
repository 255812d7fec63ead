package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing and viewing recorded analysis runs. Requires a configured store.",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("no store configured (REFUND_STORE_DATABASE_URL)")
		}
		defer st.Close() //nolint:errcheck

		datasetName, _ := cmd.Flags().GetString("dataset")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Dataset: datasetName, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its row events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("no store configured (REFUND_STORE_DATABASE_URL)")
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "runs show %s", args[0])
		}
		events, err := st.ListRowEvents(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "runs show %s", args[0])
		}

		out := struct {
			Run    *model.Run       `json:"run"`
			Events []model.RowEvent `json:"events"`
		}{Run: run, Events: events}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tDATASET\tSTARTED\tROWS\tACCEPTED\tREFUND TOTAL")
	for _, r := range runs {
		rows, accepted, total := "-", "-", "-"
		if r.Summary != nil {
			rows = fmt.Sprintf("%d", r.Summary.RowsTotal)
			accepted = fmt.Sprintf("%d", r.Summary.Accepted)
			total = fmt.Sprintf("$%.2f", r.Summary.RefundTotal)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Dataset, r.StartedAt.Format(time.RFC3339), rows, accepted, total)
	}
	_ = tw.Flush()
}

func init() {
	runsListCmd.Flags().String("dataset", "", "filter by dataset name")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
