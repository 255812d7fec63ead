package analyze

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/meridian-tax/refund-cli/internal/allocation"
	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/rates"
)

// Preflight verifies a configuration can run before any reasoning call is
// spent. It returns the list of problems found; an empty list means the
// run may proceed.
func Preflight(_ context.Context, cfg *config.Config, datasetName string) []string {
	var problems []string

	registry := dataset.NewRegistry(cfg.Datasets)

	if _, err := os.Stat(registry.Path(datasetName)); err != nil {
		problems = append(problems, fmt.Sprintf("dataset %q not found at %s", datasetName, registry.Path(datasetName)))
	} else {
		cols, err := registry.Columns(datasetName)
		if err != nil {
			problems = append(problems, fmt.Sprintf("dataset %q unreadable: %v", datasetName, err))
		} else {
			have := make(map[string]bool, len(cols))
			for _, c := range cols {
				have[strings.ToLower(strings.TrimSpace(c))] = true
			}
			for _, required := range dataset.RequiredColumns {
				if !have[strings.ToLower(required)] {
					problems = append(problems, fmt.Sprintf("dataset %q missing required column %q", datasetName, required))
				}
			}
		}
	}

	if _, err := allocation.LoadTable(cfg.Allocation.TablePath); err != nil {
		problems = append(problems, fmt.Sprintf("allocation table: %v", err))
	}
	if _, err := rates.LoadTable(cfg.Rates.TablePath); err != nil {
		problems = append(problems, fmt.Sprintf("rate table: %v", err))
	}

	if cfg.Anthropic.Key == "" {
		problems = append(problems, "anthropic API key not set (REFUND_ANTHROPIC_KEY)")
	}

	if info, err := os.Stat(registry.InvoiceDir(datasetName)); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("invoice directory %s not found", registry.InvoiceDir(datasetName)))
	}

	return problems
}
