package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-tax/refund-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "refund-cli",
	Short: "Sales and use tax refund analysis pipeline",
	Long:  "Reads transaction spreadsheets, extracts scanned invoice text, asks Claude for citation-backed refund determinations, validates them, and writes decisions back to the spreadsheet.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
