// Package dataset reads transaction spreadsheets and writes analysis
// results back without disturbing unrelated cells.
package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-tax/refund-cli/internal/config"
)

// headerOffset is the number of header rows before the first data row.
const headerOffset = 1

// Required transaction columns. Matching is case-insensitive on trimmed
// header text.
const (
	ColVendor      = "Vendor"
	ColDescription = "Description"
	ColTaxAmount   = "Tax Amount"
)

// Optional transaction columns.
const (
	ColTaxBase       = "Tax Base"
	ColInvoiceNumber = "Invoice Number"
	ColPONumber      = "PO Number"
	ColRate          = "Rate"
	ColJurisdiction  = "Jurisdiction"
)

// RequiredColumns must all be present for a dataset to be analyzable.
var RequiredColumns = []string{ColVendor, ColDescription, ColTaxAmount}

// Row is one transaction read from a dataset, identified by its zero-based
// data-row index.
type Row struct {
	Index         int
	Vendor        string
	Description   string
	TaxAmount     float64
	TaxBase       *float64
	InvoiceNumber string
	PONumber      string
	Rate          *float64
	Jurisdiction  string

	// Analyzed is true when the row already carries a final decision.
	Analyzed bool
}

// Registry locates datasets under the configured directory.
type Registry struct {
	cfg config.DatasetsConfig
}

// NewRegistry builds a Registry from config.
func NewRegistry(cfg config.DatasetsConfig) *Registry {
	return &Registry{cfg: cfg}
}

// List returns the dataset names (xlsx files, without extension) available
// for analysis, sorted.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read dir %s", r.cfg.Dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "~$") || !strings.EqualFold(filepath.Ext(name), ".xlsx") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(names)
	return names, nil
}

// Path returns the spreadsheet path for a dataset name.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.cfg.Dir, name+".xlsx")
}

// InvoiceDir returns the directory holding a dataset's scanned invoices.
func (r *Registry) InvoiceDir(name string) string {
	return filepath.Join(r.cfg.InvoiceDir, name)
}

// Read loads all data rows of a dataset. The header row maps column names
// to positions; missing optional columns leave their fields zero.
func (r *Registry) Read(name string) ([]Row, error) {
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
	for _, required := range RequiredColumns {
		if _, ok := cols[normalizeHeader(required)]; !ok {
			return nil, eris.Errorf("dataset: %s missing required column %q", name, required)
		}
	}

	var rows []Row
	for i, sheetRow := range sheet.Rows[headerOffset:] {
		cells := rowStrings(sheetRow)
		if blankRow(cells) {
			continue
		}

		row := Row{
			Index:       i,
			Vendor:      cellAt(cells, cols, ColVendor),
			Description: cellAt(cells, cols, ColDescription),
		}
		row.TaxAmount, _ = parseAmount(cellAt(cells, cols, ColTaxAmount))
		if v, ok := parseAmount(cellAt(cells, cols, ColTaxBase)); ok {
			row.TaxBase = &v
		}
		row.InvoiceNumber = cellAt(cells, cols, ColInvoiceNumber)
		row.PONumber = cellAt(cells, cols, ColPONumber)
		if v, ok := parseAmount(cellAt(cells, cols, ColRate)); ok {
			row.Rate = &v
		}
		row.Jurisdiction = cellAt(cells, cols, ColJurisdiction)
		row.Analyzed = cellAt(cells, cols, ColFinalDecision) != ""

		rows = append(rows, row)
	}

	return rows, nil
}

// Columns returns the header row of a dataset.
func (r *Registry) Columns(name string) ([]string, error) {
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
	return rowStrings(sheet.Rows[0]), nil
}

func (r *Registry) sheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if r.cfg.SheetName != "" {
		sheet, ok := f.Sheet[r.cfg.SheetName]
		if !ok {
			return nil, eris.Errorf("dataset: sheet %q not found", r.cfg.SheetName)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("dataset: file has no sheets")
	}
	return f.Sheets[0], nil
}

func headerIndex(row *xlsx.Row) map[string]int {
	cols := make(map[string]int, len(row.Cells))
	for i, cell := range row.Cells {
		name := normalizeHeader(cell.String())
		if name == "" {
			continue
		}
		if _, exists := cols[name]; !exists {
			cols[name] = i
		}
	}
	return cols
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cellAt(cells []string, cols map[string]int, column string) string {
	i, ok := cols[normalizeHeader(column)]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

// parseAmount reads a numeric cell, tolerating currency formatting.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
