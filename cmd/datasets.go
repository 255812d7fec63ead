package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-tax/refund-cli/internal/dataset"
)

var listDatasetsCmd = &cobra.Command{
	Use:   "list-datasets",
	Short: "List datasets available for analysis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry := dataset.NewRegistry(cfg.Datasets)

		names, err := registry.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(os.Stderr, "No datasets found.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listDatasetsCmd)
}
