package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-tax/refund-cli/internal/allocation"
	"github.com/meridian-tax/refund-cli/internal/analyze"
	"github.com/meridian-tax/refund-cli/internal/evidence"
	"github.com/meridian-tax/refund-cli/internal/extract"
	"github.com/meridian-tax/refund-cli/internal/rates"
	"github.com/meridian-tax/refund-cli/internal/store"
	anthropicpkg "github.com/meridian-tax/refund-cli/pkg/anthropic"
	"github.com/meridian-tax/refund-cli/pkg/retrieval"
)

// initOrchestrator builds the full analysis pipeline from config. The store
// may be nil.
func initOrchestrator(st store.Store) (*analyze.Orchestrator, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (REFUND_ANTHROPIC_KEY)")
	}

	ratesTable, err := rates.Load(cfg.Rates.TablePath)
	if err != nil {
		return nil, err
	}
	allocTable, err := allocation.Load(cfg.Allocation.TablePath)
	if err != nil {
		return nil, err
	}

	var rc retrieval.Client
	if cfg.Retrieval.BaseURL != "" {
		rc = retrieval.NewClient(cfg.Retrieval.BaseURL, cfg.Retrieval.Key,
			retrieval.WithTimeout(time.Duration(cfg.Retrieval.TimeoutSecs)*time.Second))
	}

	builder := evidence.NewBuilder(
		extract.New(cfg.Extract),
		rc,
		st,
		cfg.Datasets.InvoiceDir,
		cfg.Extract.PreviewChars,
		cfg.Retrieval.TopK,
	)

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return analyze.NewOrchestrator(cfg, builder, llm, ratesTable, allocTable, st), nil
}
