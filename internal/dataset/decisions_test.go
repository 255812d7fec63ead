package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tax/refund-cli/internal/model"
)

func TestReadDecisionsRoundTrip(t *testing.T) {
	reg, dir := newTestRegistry(t)
	path := writeDataset(t, dir, "q1", sampleRows())

	w, err := NewWriter(path, "")
	require.NoError(t, err)

	conf := 0.9
	amount := 412.50
	require.NoError(t, w.WriteDecision(0, &model.DecisionRecord{
		ProductDescription: "CNC spindle assembly",
		ProductType:        "manufacturing equipment",
		Citation:           "Tex. Tax Code §151.318",
		Confidence:         &conf,
		EstimatedRefund:    &amount,
		RefundSource:       model.RefundCalculated,
		FinalDecision:      model.DecisionRefund,
		Explanation:        "Exempt manufacturing equipment.",
		ReviewFlags:        []string{"invoice text sparse or missing", "manual check"},
	}))
	require.NoError(t, w.Save())

	decisions, err := reg.ReadDecisions("q1")
	require.NoError(t, err)
	require.Len(t, decisions, 1, "unanalyzed rows are not returned")

	d := decisions[0]
	assert.Equal(t, 0, d.RowIndex)
	assert.Equal(t, "Acme Industrial", d.Vendor)
	assert.Equal(t, model.DecisionRefund, d.Record.FinalDecision)
	assert.Equal(t, "Tex. Tax Code §151.318", d.Record.Citation)
	require.NotNil(t, d.Record.Confidence)
	assert.InDelta(t, 0.9, *d.Record.Confidence, 1e-9)
	require.NotNil(t, d.Record.EstimatedRefund)
	assert.InDelta(t, 412.50, *d.Record.EstimatedRefund, 1e-9)
	assert.Equal(t, []string{"invoice text sparse or missing", "manual check"}, d.Record.ReviewFlags)
	assert.Nil(t, d.Record.Reasoning, "the reasoning block does not survive the sheet")
}

func TestReadDecisionsNoneAnalyzed(t *testing.T) {
	reg, dir := newTestRegistry(t)
	writeDataset(t, dir, "q1", sampleRows())

	decisions, err := reg.ReadDecisions("q1")
	require.NoError(t, err)
	assert.Empty(t, decisions)
}
