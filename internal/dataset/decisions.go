package dataset

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// WrittenDecision pairs a data-row index with the decision read back from
// its analysis columns.
type WrittenDecision struct {
	RowIndex int
	Vendor   string
	Record   *model.DecisionRecord
}

// ReadDecisions loads every analyzed row's decision from the output columns.
// Rows without a final decision are skipped; the reasoning block is not
// persisted to the sheet and comes back nil.
func (r *Registry) ReadDecisions(name string) ([]WrittenDecision, error) {
	f, err := xlsx.OpenFile(r.Path(name))
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", name)
	}

	sheet, err := r.sheet(f)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("dataset: %s has no header row", name)
	}
	cols := headerIndex(sheet.Rows[0])

	var decisions []WrittenDecision
	for i, sheetRow := range sheet.Rows[headerOffset:] {
		cells := rowStrings(sheetRow)
		decision := cellAt(cells, cols, ColFinalDecision)
		if decision == "" {
			continue
		}

		rec := &model.DecisionRecord{
			ProductDescription: cellAt(cells, cols, ColProductDescription),
			ProductType:        cellAt(cells, cols, ColProductType),
			RefundBasis:        cellAt(cells, cols, ColRefundBasis),
			Citation:           cellAt(cells, cols, ColCitation),
			RefundSource:       model.RefundSource(cellAt(cells, cols, ColRefundSource)),
			FinalDecision:      model.FinalDecision(decision),
			Explanation:        cellAt(cells, cols, ColExplanation),
		}
		if v, ok := parseAmount(cellAt(cells, cols, ColConfidence)); ok {
			rec.Confidence = &v
		}
		if v, ok := parseAmount(cellAt(cells, cols, ColEstimatedRefund)); ok {
			rec.EstimatedRefund = &v
		}
		if flags := cellAt(cells, cols, ColReviewFlags); flags != "" {
			rec.ReviewFlags = strings.Split(flags, "; ")
		}

		decisions = append(decisions, WrittenDecision{
			RowIndex: i,
			Vendor:   cellAt(cells, cols, ColVendor),
			Record:   rec,
		})
	}
	return decisions, nil
}
