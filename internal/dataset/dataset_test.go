package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-tax/refund-cli/internal/config"
)

// writeDataset creates <dir>/<name>.xlsx with the given rows, first row
// being the header.
func writeDataset(t *testing.T, dir, name string, rows [][]string) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Transactions")
	require.NoError(t, err)

	for _, row := range rows {
		sheetRow := sheet.AddRow()
		for _, cell := range row {
			sheetRow.AddCell().SetString(cell)
		}
	}

	path := filepath.Join(dir, name+".xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func sampleRows() [][]string {
	return [][]string{
		{"Vendor", "Description", "Tax Amount", "Tax Base", "Invoice Number", "Rate", "Jurisdiction", "Notes"},
		{"Acme Industrial", "CNC spindle assembly", "$412.50", "5,000.00", "INV-4471", "0.0825", "TX", "keep me"},
		{"Gulf Supply Co", "safety gloves", "12.10", "", "INV-0093", "", "TX", ""},
		{"", "", "", "", "", "", "", ""},
		{"Lone Star Freight", "interstate delivery", "88.00", "1100", "", "0.08", "LA", "also keep"},
	}
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg := NewRegistry(config.DatasetsConfig{Dir: dir, InvoiceDir: filepath.Join(dir, "invoices")})
	return reg, dir
}

func TestRegistryList(t *testing.T) {
	reg, dir := newTestRegistry(t)
	writeDataset(t, dir, "q1_2024", sampleRows())
	writeDataset(t, dir, "q2_2024", sampleRows())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "~$q1_2024.xlsx"), []byte("x"), 0o644))

	names, err := reg.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"q1_2024", "q2_2024"}, names)
}

func TestReadMapsColumns(t *testing.T) {
	reg, dir := newTestRegistry(t)
	writeDataset(t, dir, "q1", sampleRows())

	rows, err := reg.Read("q1")
	require.NoError(t, err)
	require.Len(t, rows, 3) // blank row dropped

	first := rows[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "Acme Industrial", first.Vendor)
	assert.Equal(t, "CNC spindle assembly", first.Description)
	assert.InDelta(t, 412.50, first.TaxAmount, 1e-9)
	require.NotNil(t, first.TaxBase)
	assert.InDelta(t, 5000.0, *first.TaxBase, 1e-9)
	assert.Equal(t, "INV-4471", first.InvoiceNumber)
	require.NotNil(t, first.Rate)
	assert.InDelta(t, 0.0825, *first.Rate, 1e-9)
	assert.Equal(t, "TX", first.Jurisdiction)
	assert.False(t, first.Analyzed)

	second := rows[1]
	assert.Nil(t, second.TaxBase)
	assert.Nil(t, second.Rate)

	// The blank sheet row still occupies an index.
	assert.Equal(t, 3, rows[2].Index)
	assert.Equal(t, "Lone Star Freight", rows[2].Vendor)
}

func TestReadRejectsMissingRequiredColumn(t *testing.T) {
	reg, dir := newTestRegistry(t)
	writeDataset(t, dir, "bad", [][]string{
		{"Vendor", "Description"}, // no Tax Amount
		{"Acme", "widget"},
	})

	_, err := reg.Read("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tax Amount")
}

func TestReadMarksAnalyzedRows(t *testing.T) {
	reg, dir := newTestRegistry(t)
	writeDataset(t, dir, "partial", [][]string{
		{"Vendor", "Description", "Tax Amount", "Final Decision"},
		{"Acme", "widget", "10.00", "NO REFUND"},
		{"Gulf", "gadget", "20.00", ""},
	})

	rows, err := reg.Read("partial")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Analyzed)
	assert.False(t, rows[1].Analyzed)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,234.56", 1234.56, true},
		{"0.0825", 0.0825, true},
		{" 88 ", 88, true},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, tt.in)
		}
	}
}
