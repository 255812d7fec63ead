package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// Analysis output columns, appended to the sheet when absent. Existing
// columns are never removed or reordered.
const (
	ColProductDescription = "Product Description"
	ColProductType        = "Product Type"
	ColRefundBasis        = "Refund Basis"
	ColCitation           = "Citation"
	ColConfidence         = "Confidence"
	ColEstimatedRefund    = "Estimated Refund"
	ColRefundSource       = "Refund Source"
	ColFinalDecision      = "Final Decision"
	ColExplanation        = "Explanation"
	ColReviewFlags        = "Review Flags"
)

// AnalysisColumns is the fixed output column set, in append order.
var AnalysisColumns = []string{
	ColProductDescription,
	ColProductType,
	ColRefundBasis,
	ColCitation,
	ColConfidence,
	ColEstimatedRefund,
	ColRefundSource,
	ColFinalDecision,
	ColExplanation,
	ColReviewFlags,
}

// ErrRowOutOfBounds reports an update whose row index does not exist in the
// sheet. The caller skips the row; the run continues.
var ErrRowOutOfBounds = eris.New("dataset: row index out of bounds")

// Writer applies per-row decision updates to a spreadsheet. Load, mutate in
// memory, then Save atomically.
type Writer struct {
	path  string
	file  *xlsx.File
	sheet *xlsx.Sheet
	cols  map[string]int
}

// NewWriter loads the spreadsheet at path and appends any missing analysis
// columns in memory.
func NewWriter(path string, sheetName string) (*Writer, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s for writing", path)
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("dataset: sheet %q not found", sheetName)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("dataset: file has no sheets")
		}
		sheet = f.Sheets[0]
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("dataset: file has no header row")
	}

	w := &Writer{path: path, file: f, sheet: sheet}
	w.ensureColumns()
	return w, nil
}

// ensureColumns appends the analysis columns missing from the header. Safe
// to run repeatedly; existing columns keep their positions.
func (w *Writer) ensureColumns() {
	header := w.sheet.Rows[0]
	w.cols = headerIndex(header)

	for _, col := range AnalysisColumns {
		if _, ok := w.cols[normalizeHeader(col)]; ok {
			continue
		}
		cell := header.AddCell()
		cell.SetString(col)
		w.cols[normalizeHeader(col)] = len(header.Cells) - 1
	}
}

// WriteDecision writes one decision to the data row at the zero-based
// index. Unrelated cells are untouched; rewriting the same decision is a
// no-op on the final sheet state.
func (w *Writer) WriteDecision(rowIndex int, rec *model.DecisionRecord) error {
	sheetRow := rowIndex + headerOffset
	if rowIndex < 0 || sheetRow >= len(w.sheet.Rows) {
		return eris.Wrapf(ErrRowOutOfBounds, "row %d (sheet has %d data rows)", rowIndex, len(w.sheet.Rows)-headerOffset)
	}

	w.setCell(sheetRow, ColProductDescription, rec.ProductDescription)
	w.setCell(sheetRow, ColProductType, rec.ProductType)
	w.setCell(sheetRow, ColRefundBasis, rec.RefundBasis)
	w.setCell(sheetRow, ColCitation, rec.Citation)
	w.setCell(sheetRow, ColConfidence, formatFloat(rec.Confidence, "%.2f"))
	w.setCell(sheetRow, ColEstimatedRefund, formatFloat(rec.EstimatedRefund, "%.2f"))
	w.setCell(sheetRow, ColRefundSource, string(rec.RefundSource))
	w.setCell(sheetRow, ColFinalDecision, string(rec.FinalDecision))
	w.setCell(sheetRow, ColExplanation, rec.Explanation)
	w.setCell(sheetRow, ColReviewFlags, strings.Join(rec.ReviewFlags, "; "))

	return nil
}

// Save writes the whole file atomically: temp file in the same directory,
// then rename over the original.
func (w *Writer) Save() error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".refund-*.xlsx")
	if err != nil {
		return eris.Wrap(err, "dataset: create temp file")
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := w.file.Save(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrapf(err, "dataset: save %s", w.path)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return eris.Wrapf(err, "dataset: replace %s", w.path)
	}
	return nil
}

func (w *Writer) setCell(sheetRow int, column, value string) {
	col := w.cols[normalizeHeader(column)]
	row := w.sheet.Rows[sheetRow]
	for len(row.Cells) <= col {
		row.AddCell()
	}
	row.Cells[col].SetString(value)
}

func formatFloat(v *float64, format string) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf(format, *v)
}
