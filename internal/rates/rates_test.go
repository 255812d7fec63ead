package rates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := LoadTable(writeTable(t, `
entries:
  - location: "State of Texas"
    rate: 0.0625
  - location: "Austin (Travis Co)"
    rate: 0.0825
  - location: "Houston (Harris Co)"
    rate: 0.0825
  - location: "Round Rock"
    rate: 0.0800
`))
	require.NoError(t, err)
	return tbl
}

func TestLoadTableDeduplicates(t *testing.T) {
	tbl := testTable(t)

	// 0.0825 appears twice; the first location wins.
	rate, location := tbl.Nearest(0.0825)
	assert.InDelta(t, 0.0825, rate, 1e-9)
	assert.Equal(t, "Austin (Travis Co)", location)
}

func TestLoadTableErrors(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = LoadTable(writeTable(t, "entries: []"))
	assert.Error(t, err)

	_, err = LoadTable(writeTable(t, "{not yaml"))
	assert.Error(t, err)
}

func TestValidateKnownRate(t *testing.T) {
	tbl := testTable(t)

	res := tbl.Validate(0.0820, "TX", nil, 41.00)

	assert.True(t, res.RateOK)
	assert.True(t, res.TaxCalcOK)
	require.NotNil(t, res.NearestRate)
	assert.InDelta(t, 0.0825, *res.NearestRate, 1e-9)
	assert.Equal(t, "Austin (Travis Co)", res.NearestLocation)
	require.NotNil(t, res.Variance)
	assert.InDelta(t, -0.0005, *res.Variance, 1e-9)
	assert.Contains(t, res.Message, "matches Austin (Travis Co)")
}

func TestValidateMismatchBeyondTolerance(t *testing.T) {
	tbl := testTable(t)

	// Nearest known rate is 0.0800 but the variance is 0.0025 > 0.002.
	res := tbl.Validate(0.0775, "TX", nil, 10.00)

	assert.False(t, res.RateOK)
	assert.Contains(t, res.Message, "differs from nearest known rate")
}

func TestValidateAnomalyOutsideBand(t *testing.T) {
	tbl := testTable(t)

	res := tbl.Validate(0.41, "TX", nil, 100.00)

	assert.False(t, res.RateOK)
	assert.Nil(t, res.NearestRate)
	assert.Contains(t, res.Message, "outside plausible TX band")
}

func TestValidateForeignJurisdictionSkipsTable(t *testing.T) {
	tbl := testTable(t)

	res := tbl.Validate(0.145, "LA", nil, 100.00)

	assert.True(t, res.RateOK)
	assert.Nil(t, res.NearestRate)
	assert.Contains(t, res.Message, `jurisdiction "LA"`)
}

func TestValidateTaxArithmetic(t *testing.T) {
	tbl := testTable(t)
	base := 1000.0

	consistent := tbl.Validate(0.0825, "TX", &base, 82.50)
	assert.True(t, consistent.TaxCalcOK)
	assert.Contains(t, consistent.Message, "consistent with base x rate")

	// Reported tax diverges far beyond 5% of base x rate.
	divergent := tbl.Validate(0.0825, "TX", &base, 40.00)
	assert.True(t, divergent.RateOK)
	assert.False(t, divergent.TaxCalcOK)
	assert.Contains(t, divergent.Message, "deviates")
}

func TestValidateChecksAreIndependent(t *testing.T) {
	tbl := testTable(t)
	base := 1000.0

	// Bad rate, good arithmetic for that rate.
	res := tbl.Validate(0.30, "TX", &base, 300.00)
	assert.False(t, res.RateOK)
	assert.True(t, res.TaxCalcOK)
}
