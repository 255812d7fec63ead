package analyze

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-tax/refund-cli/internal/allocation"
	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/evidence"
	"github.com/meridian-tax/refund-cli/internal/extract"
	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/internal/rates"
	"github.com/meridian-tax/refund-cli/internal/store"
	"github.com/meridian-tax/refund-cli/pkg/anthropic"
)

// fakeReasoner returns canned responses in order, repeating the last one.
type fakeReasoner struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeReasoner) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.prompts = append(f.prompts, req.Messages[0].Content)
	if f.err != nil {
		return nil, f.err
	}

	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.responses[i]}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

const validResponse = `{
	"product_description": "CNC spindle assembly",
	"product_type": "manufacturing equipment",
	"refund_basis": "used directly in manufacturing",
	"citation": "Tex. Tax Code §151.318",
	"confidence": 0.9,
	"estimated_refund": 50,
	"final_decision": "REFUND",
	"explanation": "Exempt manufacturing equipment.",
	"methodology": "full_exemption",
	"reasoning": {
		"invoice_verified": "INVOICE VERIFIED: INV-4471",
		"ship_to": "SHIP-TO: Waco TX",
		"line_item": "LINE ITEM: spindle"
	}
}`

// invalidResponse is valid JSON that fails validation (no reasoning block).
const invalidResponse = `{
	"product_description": "CNC spindle assembly",
	"citation": "Tex. Tax Code §151.318",
	"confidence": 0.9,
	"estimated_refund": 50,
	"final_decision": "REFUND",
	"explanation": "Exempt manufacturing equipment."
}`

func writeAnalyzeDataset(t *testing.T, dir, name string, rows [][]string) {
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

func newTestOrchestrator(t *testing.T, llm anthropic.Client) (*Orchestrator, *config.Config) {
	t.Helper()
	base := t.TempDir()

	cfg := &config.Config{
		Datasets: config.DatasetsConfig{
			Dir:        filepath.Join(base, "datasets"),
			InvoiceDir: filepath.Join(base, "invoices"),
			RunLogDir:  filepath.Join(base, "runs"),
		},
		Anthropic: config.AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1024,
			RPS:       1000,
		},
		Extract: config.ExtractConfig{Recognizer: "none"},
	}
	require.NoError(t, os.MkdirAll(cfg.Datasets.Dir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Datasets.InvoiceDir, 0o755))

	allocPath := filepath.Join(base, "allocations.yaml")
	require.NoError(t, os.WriteFile(allocPath, []byte("allocations:\n  full_exemption: 1.0\n"), 0o644))
	allocTable, err := allocation.LoadTable(allocPath)
	require.NoError(t, err)

	ratesPath := filepath.Join(base, "tx_rates.yaml")
	require.NoError(t, os.WriteFile(ratesPath, []byte("entries:\n  - location: Austin\n    rate: 0.0825\n  - location: State of Texas\n    rate: 0.0625\n"), 0o644))
	ratesTable, err := rates.LoadTable(ratesPath)
	require.NoError(t, err)

	builder := evidence.NewBuilder(extract.New(cfg.Extract), nil, nil, cfg.Datasets.InvoiceDir, 6000, 5)

	return NewOrchestrator(cfg, builder, llm, ratesTable, allocTable, nil), cfg
}

func sampleRow() dataset.Row {
	rate := 0.0825
	return dataset.Row{
		Index:        0,
		Vendor:       "Acme Industrial",
		Description:  "CNC spindle assembly",
		TaxAmount:    412.50,
		Rate:         &rate,
		Jurisdiction: "TX",
	}
}

func TestAnalyzeRowAccepted(t *testing.T) {
	llm := &fakeReasoner{responses: []string{validResponse}}
	o, _ := newTestOrchestrator(t, llm)

	res := o.AnalyzeRow(context.Background(), "run-1", "q1", sampleRow())

	assert.Equal(t, model.RowAccepted, res.Event.Status)
	assert.Equal(t, 1, res.Event.Attempts)
	require.NotNil(t, res.Decision)
	assert.Equal(t, model.DecisionRefund, res.Decision.FinalDecision)

	// The allocation table overrides the service's own estimate.
	require.NotNil(t, res.Decision.EstimatedRefund)
	assert.InDelta(t, 412.50, *res.Decision.EstimatedRefund, 1e-9)
	assert.Equal(t, model.RefundCalculated, res.Decision.RefundSource)
	assert.Equal(t, 1, llm.calls)
}

func TestAnalyzeRowRetryThenAccept(t *testing.T) {
	llm := &fakeReasoner{responses: []string{invalidResponse, validResponse}}
	o, _ := newTestOrchestrator(t, llm)

	res := o.AnalyzeRow(context.Background(), "run-1", "q1", sampleRow())

	assert.Equal(t, model.RowAccepted, res.Event.Status)
	assert.Equal(t, 2, res.Event.Attempts)
	assert.Equal(t, 2, llm.calls)

	// The retry prompt carries the rejected output and its violations.
	retryPrompt := llm.prompts[1]
	assert.Contains(t, retryPrompt, "previous response was rejected")
	assert.Contains(t, retryPrompt, "reasoning_markers")
	assert.Contains(t, retryPrompt, `"final_decision": "REFUND"`)
}

func TestAnalyzeRowDoubleFailureFallsBack(t *testing.T) {
	llm := &fakeReasoner{responses: []string{invalidResponse}}
	o, _ := newTestOrchestrator(t, llm)

	res := o.AnalyzeRow(context.Background(), "run-1", "q1", sampleRow())

	assert.Equal(t, model.RowFallback, res.Event.Status)
	assert.Equal(t, 2, res.Event.Attempts)
	assert.NotEmpty(t, res.Event.Violations)

	require.NotNil(t, res.Decision)
	assert.Equal(t, model.DecisionReview, res.Decision.FinalDecision)
	require.NotNil(t, res.Decision.Confidence)
	assert.Zero(t, *res.Decision.Confidence)
	assert.Contains(t, res.Decision.Explanation, "validation failed")
}

func TestAnalyzeRowMalformedOutputFallsBack(t *testing.T) {
	llm := &fakeReasoner{responses: []string{"I am not JSON at all."}}
	o, _ := newTestOrchestrator(t, llm)

	res := o.AnalyzeRow(context.Background(), "run-1", "q1", sampleRow())

	assert.Equal(t, model.RowFallback, res.Event.Status)
	assert.Equal(t, 2, llm.calls, "malformed output gets one feedback retry")
	assert.Equal(t, model.DecisionReview, res.Decision.FinalDecision)
}

func TestAnalyzeRowServiceErrorFallsBack(t *testing.T) {
	llm := &fakeReasoner{err: eris.New("invalid_request_error")}
	o, _ := newTestOrchestrator(t, llm)

	res := o.AnalyzeRow(context.Background(), "run-1", "q1", sampleRow())

	assert.Equal(t, model.RowFallback, res.Event.Status)
	require.NotNil(t, res.Decision)
	assert.Equal(t, model.DecisionReview, res.Decision.FinalDecision)
	assert.Contains(t, res.Decision.Explanation, "reasoning call failed")
}

func TestAnalyzeRowCancelledLeavesRowUnanalyzed(t *testing.T) {
	llm := &fakeReasoner{err: context.Canceled}
	o, _ := newTestOrchestrator(t, llm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.AnalyzeRow(ctx, "run-1", "q1", sampleRow())

	assert.Equal(t, model.RowSkipped, res.Event.Status)
	assert.Nil(t, res.Decision, "no partial record on cancellation")
}

func TestNormalizeFlagsBadRate(t *testing.T) {
	llm := &fakeReasoner{responses: []string{validResponse}}
	o, _ := newTestOrchestrator(t, llm)

	row := sampleRow()
	badRate := 0.41
	row.Rate = &badRate

	res := o.AnalyzeRow(context.Background(), "run-1", "q1", row)

	require.NotNil(t, res.Decision)
	found := false
	for _, flag := range res.Decision.ReviewFlags {
		if strings.Contains(flag, "outside plausible") {
			found = true
		}
	}
	assert.True(t, found, "review flags: %v", res.Decision.ReviewFlags)
}

func TestRunEndToEndDoubleFailure(t *testing.T) {
	llm := &fakeReasoner{responses: []string{invalidResponse}}
	o, cfg := newTestOrchestrator(t, llm)

	writeAnalyzeDataset(t, cfg.Datasets.Dir, "q1", [][]string{
		{"Vendor", "Description", "Tax Amount", "Notes"},
		{"Acme Industrial", "CNC spindle assembly", "412.50", "keep me"},
		{"Gulf Supply Co", "already done", "10.00", "done"},
	})

	summary, err := o.Run(context.Background(), "q1", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RowsTotal)
	assert.Equal(t, 0, summary.Accepted)
	assert.Equal(t, 2, summary.Fallbacks)
	assert.Zero(t, summary.RefundTotal)
	assert.Equal(t, int64(400), summary.InputTokens, "2 rows x 2 attempts x 100 tokens")

	// The spreadsheet got REVIEW decisions and kept unrelated cells.
	f, err := xlsx.OpenFile(filepath.Join(cfg.Datasets.Dir, "q1.xlsx"))
	require.NoError(t, err)
	sheet := f.Sheets[0]

	var decisionCol int
	for i, cell := range sheet.Rows[0].Cells {
		if cell.String() == dataset.ColFinalDecision {
			decisionCol = i
		}
	}
	assert.Equal(t, "REVIEW", sheet.Rows[1].Cells[decisionCol].String())
	assert.Equal(t, "keep me", sheet.Rows[1].Cells[3].String())
	assert.Equal(t, "Gulf Supply Co", sheet.Rows[2].Cells[0].String())

	// The run log holds one line per row plus the summary.
	entries, err := os.ReadDir(cfg.Datasets.RunLogDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(cfg.Datasets.RunLogDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, 3, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestRunFilters(t *testing.T) {
	llm := &fakeReasoner{responses: []string{validResponse}}
	o, cfg := newTestOrchestrator(t, llm)

	writeAnalyzeDataset(t, cfg.Datasets.Dir, "q1", [][]string{
		{"Vendor", "Description", "Tax Amount"},
		{"Acme Industrial", "spindle", "100.00"},
		{"Gulf Supply Co", "gloves", "10.00"},
		{"Acme Industrial", "fixture", "50.00"},
	})

	summary, err := o.Run(context.Background(), "q1", RunOptions{Vendor: "acme", Limit: 1, NoWrite: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsTotal)
	assert.Equal(t, 1, llm.calls)
}

func TestRunUpdatesVendorProfiles(t *testing.T) {
	llm := &fakeReasoner{responses: []string{validResponse}}
	o, cfg := newTestOrchestrator(t, llm)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "refund.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Migrate(context.Background()))
	o.store = st

	writeAnalyzeDataset(t, cfg.Datasets.Dir, "q1", [][]string{
		{"Vendor", "Description", "Tax Amount"},
		{"Acme Industrial", "spindle", "100.00"},
		{"Acme Industrial", "fixture", "50.00"},
	})

	_, err = o.Run(context.Background(), "q1", RunOptions{NoWrite: true})
	require.NoError(t, err)

	profile, err := st.GetVendorProfile(context.Background(), "Acme Industrial")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 2, profile.RowsAnalyzed)
	assert.InDelta(t, 1.0, profile.RefundRate, 1e-9)
	assert.Equal(t, "manufacturing equipment", profile.CommonProduct)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	llm := &fakeReasoner{responses: []string{validResponse}}
	o, cfg := newTestOrchestrator(t, llm)

	rows := [][]string{
		{"Vendor", "Description", "Tax Amount"},
		{"Acme Industrial", "spindle", "100.00"},
	}
	writeAnalyzeDataset(t, cfg.Datasets.Dir, "q1", rows)
	before, err := os.ReadFile(filepath.Join(cfg.Datasets.Dir, "q1.xlsx"))
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "q1", RunOptions{DryRun: true})
	require.NoError(t, err)

	after, err := os.ReadFile(filepath.Join(cfg.Datasets.Dir, "q1.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "dry run must not touch the artifact")
}
