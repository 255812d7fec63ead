package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-tax/refund-cli/internal/analyze"
	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/model"
)

func newTestActivities(t *testing.T) (*Activities, *config.Config) {
	t.Helper()
	base := t.TempDir()

	cfg := &config.Config{
		Datasets: config.DatasetsConfig{
			Dir:        filepath.Join(base, "datasets"),
			InvoiceDir: filepath.Join(base, "invoices"),
			RunLogDir:  filepath.Join(base, "runs"),
		},
	}
	require.NoError(t, os.MkdirAll(cfg.Datasets.Dir, 0o755))
	return NewActivities(cfg, nil, nil), cfg
}

func writeWorkerDataset(t *testing.T, dir, name string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Transactions")
	require.NoError(t, err)
	for _, row := range rows {
		r := sheet.AddRow()
		for _, c := range row {
			r.AddCell().SetString(c)
		}
	}
	require.NoError(t, f.Save(filepath.Join(dir, name+".xlsx")))
}

func TestListRowsAppliesOptions(t *testing.T) {
	a, cfg := newTestActivities(t)
	writeWorkerDataset(t, cfg.Datasets.Dir, "q1", [][]string{
		{"Vendor", "Description", "Tax Amount"},
		{"Acme Industrial", "spindle", "100.00"},
		{"Gulf Supply Co", "gloves", "10.00"},
		{"Acme Industrial", "fixture", "50.00"},
	})

	rows, err := a.ListRows(context.Background(), AnalyzeDatasetInput{
		Dataset: "q1",
		Options: analyze.RunOptions{Vendor: "acme"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, 2, rows[1].Index)

	rows, err = a.ListRows(context.Background(), AnalyzeDatasetInput{
		Dataset: "q1",
		Options: analyze.RunOptions{Limit: 1},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestListRowsMissingDataset(t *testing.T) {
	a, _ := newTestActivities(t)

	_, err := a.ListRows(context.Background(), AnalyzeDatasetInput{Dataset: "nope"})
	assert.Error(t, err)
}

func TestWriteResultsAppliesDecisionsOnce(t *testing.T) {
	a, cfg := newTestActivities(t)
	writeWorkerDataset(t, cfg.Datasets.Dir, "q1", [][]string{
		{"Vendor", "Description", "Tax Amount"},
		{"Acme Industrial", "spindle", "100.00"},
		{"Gulf Supply Co", "gloves", "10.00"},
	})

	amount := 100.0
	results := []analyze.RowResult{
		{
			Decision: &model.DecisionRecord{
				FinalDecision:   model.DecisionRefund,
				EstimatedRefund: &amount,
			},
			Event: model.RowEvent{RunID: "wf-1", RowIndex: 0, Status: model.RowAccepted},
		},
		{
			// Out of bounds: the sheet has two data rows.
			Decision: &model.DecisionRecord{FinalDecision: model.DecisionReview},
			Event:    model.RowEvent{RunID: "wf-1", RowIndex: 9, Status: model.RowFallback},
		},
	}

	summary, err := a.WriteResults(context.Background(), WriteInput{
		RunID:   "wf-1",
		Dataset: "q1",
		Results: results,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RowsTotal)
	assert.Equal(t, 1, summary.Accepted)
	assert.Equal(t, 1, summary.Skipped, "out-of-bounds write becomes a skip")
	assert.InDelta(t, 100.0, summary.RefundTotal, 1e-9)

	f, err := xlsx.OpenFile(filepath.Join(cfg.Datasets.Dir, "q1.xlsx"))
	require.NoError(t, err)
	sheet := f.Sheets[0]
	var decisionCol int
	for i, cell := range sheet.Rows[0].Cells {
		if cell.String() == dataset.ColFinalDecision {
			decisionCol = i
		}
	}
	assert.Equal(t, "REFUND", sheet.Rows[1].Cells[decisionCol].String())

	// One log line per row plus the summary.
	data, err := os.ReadFile(filepath.Join(cfg.Datasets.RunLogDir, "wf-1.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 3, lines)
}

func TestWriteResultsNoWriteLeavesSheetAlone(t *testing.T) {
	a, cfg := newTestActivities(t)
	writeWorkerDataset(t, cfg.Datasets.Dir, "q1", [][]string{
		{"Vendor", "Description", "Tax Amount"},
		{"Acme Industrial", "spindle", "100.00"},
	})
	before, err := os.ReadFile(filepath.Join(cfg.Datasets.Dir, "q1.xlsx"))
	require.NoError(t, err)

	amount := 100.0
	_, err = a.WriteResults(context.Background(), WriteInput{
		RunID:   "wf-2",
		Dataset: "q1",
		Options: analyze.RunOptions{NoWrite: true},
		Results: []analyze.RowResult{{
			Decision: &model.DecisionRecord{FinalDecision: model.DecisionRefund, EstimatedRefund: &amount},
			Event:    model.RowEvent{RunID: "wf-2", RowIndex: 0, Status: model.RowAccepted},
		}},
	})
	require.NoError(t, err)

	after, err := os.ReadFile(filepath.Join(cfg.Datasets.Dir, "q1.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
