// Package allocation converts a named methodology plus a tax amount into a
// refund amount, preferring the deterministic table over the reasoning
// service's estimate.
package allocation

import (
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// Table maps normalized methodology names to allocation percentages. A nil
// percentage means the methodology is known but has no deterministic rule.
type Table struct {
	allocations map[string]*float64
}

type tableFile struct {
	Allocations map[string]*float64 `yaml:"allocations"`
}

// LoadTable reads the allocation table at path and normalizes its keys.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "allocation: read table %s", path)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "allocation: parse table %s", path)
	}
	if len(f.Allocations) == 0 {
		return nil, eris.Errorf("allocation: table %s has no allocations", path)
	}

	t := &Table{allocations: make(map[string]*float64, len(f.Allocations))}
	for name, pct := range f.Allocations {
		t.allocations[Normalize(name)] = pct
	}
	return t, nil
}

var (
	loadOnce    sync.Once
	loadedTable *Table
	loadErr     error
)

// Load returns the process-wide allocation table, reading it on first use.
// The loaded table is immutable.
func Load(path string) (*Table, error) {
	loadOnce.Do(func() {
		loadedTable, loadErr = LoadTable(path)
	})
	return loadedTable, loadErr
}

// Normalize folds a methodology name to its table key: lowercase, with
// spaces and hyphens as underscores.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// Calculate returns the refund amount for a tax amount under the named
// methodology. A table hit with a non-nil percentage yields a deterministic
// amount; anything else falls back to the reasoning service's estimate,
// clamped to zero or above.
func (t *Table) Calculate(taxAmount float64, methodology string, estimate float64) (float64, model.RefundSource) {
	if pct, ok := t.allocations[Normalize(methodology)]; ok && pct != nil {
		return taxAmount * *pct, model.RefundCalculated
	}
	if estimate < 0 {
		estimate = 0
	}
	return estimate, model.RefundEstimated
}
