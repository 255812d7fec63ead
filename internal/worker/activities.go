package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-tax/refund-cli/internal/analyze"
	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/internal/store"
)

// RowRef is the unit of work handed to an AnalyzeRow activity.
type RowRef = dataset.Row

// AnalyzeRowInput carries one row to an activity worker.
type AnalyzeRowInput struct {
	RunID   string `json:"run_id"`
	Dataset string `json:"dataset"`
	Row     RowRef `json:"row"`
}

// WriteInput delivers every row result to the single write activity.
type WriteInput struct {
	RunID   string              `json:"run_id"`
	Dataset string              `json:"dataset"`
	Options analyze.RunOptions  `json:"options"`
	Results []analyze.RowResult `json:"results"`
}

// Activities holds the shared pipeline dependencies for activity workers.
// Every worker process needs the same dataset and invoice directories
// mounted; the write activity additionally requires exclusive ownership of
// the spreadsheet file.
type Activities struct {
	cfg          *config.Config
	orchestrator *analyze.Orchestrator
	store        store.Store // nil disables persistence
}

// NewActivities wires the activity set.
func NewActivities(cfg *config.Config, orchestrator *analyze.Orchestrator, st store.Store) *Activities {
	return &Activities{cfg: cfg, orchestrator: orchestrator, store: st}
}

// ListRows reads the dataset and returns the rows the run options select,
// in spreadsheet order.
func (a *Activities) ListRows(_ context.Context, input AnalyzeDatasetInput) ([]RowRef, error) {
	registry := dataset.NewRegistry(a.cfg.Datasets)
	rows, err := registry.Read(input.Dataset)
	if err != nil {
		return nil, err
	}

	opts := input.Options
	selected := make([]RowRef, 0, len(rows))
	for _, row := range rows {
		if row.Analyzed {
			continue
		}
		if opts.Row != nil && row.Index != *opts.Row {
			continue
		}
		if opts.Vendor != "" && !strings.Contains(strings.ToLower(row.Vendor), strings.ToLower(opts.Vendor)) {
			continue
		}
		selected = append(selected, row)
		if opts.Limit > 0 && len(selected) >= opts.Limit {
			break
		}
	}
	return selected, nil
}

// AnalyzeRow runs the per-row pipeline for one row. It never returns an
// error for analysis failures; those surface as fallback results.
func (a *Activities) AnalyzeRow(ctx context.Context, input AnalyzeRowInput) (analyze.RowResult, error) {
	return a.orchestrator.AnalyzeRow(ctx, input.RunID, input.Dataset, input.Row), nil
}

// WriteResults applies every decision to the spreadsheet, appends the run
// log, and records the summary. It runs exactly once per workflow so writes
// never interleave.
func (a *Activities) WriteResults(ctx context.Context, input WriteInput) (*model.RunSummary, error) {
	registry := dataset.NewRegistry(a.cfg.Datasets)

	if a.store != nil {
		if _, err := a.store.CreateRunWithID(ctx, input.RunID, input.Dataset); err != nil {
			return nil, err
		}
	}

	runLog, err := analyze.NewRunLog(a.cfg.Datasets.RunLogDir, input.RunID)
	if err != nil {
		return nil, err
	}
	defer runLog.Close() //nolint:errcheck

	var writer *dataset.Writer
	if !input.Options.DryRun && !input.Options.NoWrite {
		writer, err = dataset.NewWriter(registry.Path(input.Dataset), a.cfg.Datasets.SheetName)
		if err != nil {
			return nil, err
		}
	}

	summary := &model.RunSummary{
		RunID:     input.RunID,
		Dataset:   input.Dataset,
		StartedAt: time.Now().UTC(),
	}

	for _, res := range input.Results {
		event := res.Event
		if res.Decision != nil && writer != nil {
			if werr := writer.WriteDecision(event.RowIndex, res.Decision); werr != nil {
				if !errors.Is(werr, dataset.ErrRowOutOfBounds) {
					return summary, werr
				}
				event.Status = model.RowSkipped
				event.Violations = append(event.Violations, "output row out of bounds")
				zap.L().Warn("row skipped: out of output bounds",
					zap.String("run_id", input.RunID),
					zap.Int("row", event.RowIndex),
				)
			}
		}

		if aerr := runLog.Append(&event); aerr != nil {
			zap.L().Error("run log append failed", zap.Error(aerr))
		}
		if a.store != nil {
			if serr := a.store.AppendRowEvent(ctx, &event); serr != nil {
				zap.L().Error("store row event failed", zap.Error(serr))
			}
		}

		summary.RowsTotal++
		switch event.Status {
		case model.RowAccepted:
			summary.Accepted++
		case model.RowFallback:
			summary.Fallbacks++
		case model.RowSkipped:
			summary.Skipped++
		}
		if event.Status == model.RowAccepted &&
			res.Decision.FinalDecision == model.DecisionRefund &&
			res.Decision.EstimatedRefund != nil {
			summary.RefundTotal += *res.Decision.EstimatedRefund
		}
	}

	if writer != nil {
		if err := writer.Save(); err != nil {
			return summary, err
		}
	}

	summary.FinishedAt = time.Now().UTC()
	if err := runLog.WriteSummary(summary); err != nil {
		return summary, err
	}
	if a.store != nil {
		if err := a.store.CompleteRun(ctx, input.RunID, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}
