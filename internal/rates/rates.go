// Package rates validates charged tax rates against the Texas reference
// table and checks tax arithmetic.
package rates

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/meridian-tax/refund-cli/internal/model"
)

const (
	// GovernedJurisdiction is the only jurisdiction the reference table
	// covers; other jurisdictions skip the table comparison.
	GovernedJurisdiction = "TX"

	// StateRate is the Texas state sales tax rate.
	StateRate = 0.0625

	// MaxCombinedRate is the state rate plus the 2% local cap.
	MaxCombinedRate = 0.0825

	// rateTolerance is the nearest-neighbor mismatch threshold, 0.2
	// percentage points.
	rateTolerance = 0.002

	// taxCalcTolerance is the allowed relative deviation between the
	// reported tax amount and tax_base x rate.
	taxCalcTolerance = 0.05
)

// Table maps known combined rates to a representative location. Duplicate
// rates in the source file keep the first location seen.
type Table struct {
	entries []tableEntry
}

type tableEntry struct {
	Rate     float64
	Location string
}

type tableFile struct {
	Entries []struct {
		Location string  `yaml:"location"`
		Rate     float64 `yaml:"rate"`
	} `yaml:"entries"`
}

// LoadTable reads and deduplicates the reference table at path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rates: read table %s", path)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "rates: parse table %s", path)
	}
	if len(f.Entries) == 0 {
		return nil, eris.Errorf("rates: table %s has no entries", path)
	}

	seen := make(map[float64]bool, len(f.Entries))
	t := &Table{}
	for _, e := range f.Entries {
		if seen[e.Rate] {
			continue
		}
		seen[e.Rate] = true
		t.entries = append(t.entries, tableEntry{Rate: e.Rate, Location: e.Location})
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].Rate < t.entries[j].Rate })

	return t, nil
}

var (
	loadOnce    sync.Once
	loadedTable *Table
	loadErr     error
)

// Load returns the process-wide reference table, reading it on first use.
// The loaded table is immutable.
func Load(path string) (*Table, error) {
	loadOnce.Do(func() {
		loadedTable, loadErr = LoadTable(path)
	})
	return loadedTable, loadErr
}

// Len reports the number of distinct rates in the table.
func (t *Table) Len() int { return len(t.entries) }

// Nearest returns the reference rate closest to charged and its location.
func (t *Table) Nearest(charged float64) (float64, string) {
	best := t.entries[0]
	for _, e := range t.entries[1:] {
		if math.Abs(e.Rate-charged) < math.Abs(best.Rate-charged) {
			best = e
		}
	}
	return best.Rate, best.Location
}

// Validate checks a charged rate against the reference table and, when both
// tax base and amount are present, recomputes the tax. The two checks are
// independent and both appear in the message.
func (t *Table) Validate(charged float64, jurisdiction string, taxBase *float64, taxAmount float64) model.RateValidation {
	res := model.RateValidation{
		Jurisdiction: jurisdiction,
		ChargedRate:  charged,
		RateOK:       true,
		TaxCalcOK:    true,
	}

	var parts []string

	if !strings.EqualFold(strings.TrimSpace(jurisdiction), GovernedJurisdiction) {
		parts = append(parts, fmt.Sprintf("jurisdiction %q outside %s, rate table not applicable", jurisdiction, GovernedJurisdiction))
	} else if charged < StateRate || charged > MaxCombinedRate {
		res.RateOK = false
		parts = append(parts, fmt.Sprintf("rate %.4f outside plausible %s band [%.4f, %.4f]", charged, GovernedJurisdiction, StateRate, MaxCombinedRate))
	} else {
		nearest, location := t.Nearest(charged)
		variance := charged - nearest
		res.NearestRate = &nearest
		res.NearestLocation = location
		res.Variance = &variance

		if math.Abs(variance) > rateTolerance {
			res.RateOK = false
			parts = append(parts, fmt.Sprintf("rate %.4f differs from nearest known rate %.4f (%s) by %.4f", charged, nearest, location, variance))
		} else {
			parts = append(parts, fmt.Sprintf("rate %.4f matches %s (%.4f)", charged, location, nearest))
		}
	}

	if taxBase != nil && *taxBase > 0 && taxAmount > 0 {
		expected := *taxBase * charged
		deviation := math.Abs(expected-taxAmount) / taxAmount
		if deviation > taxCalcTolerance {
			res.TaxCalcOK = false
			parts = append(parts, fmt.Sprintf("tax %.2f deviates %.0f%% from base x rate = %.2f", taxAmount, deviation*100, expected))
		} else {
			parts = append(parts, fmt.Sprintf("tax %.2f consistent with base x rate", taxAmount))
		}
	}

	res.Message = strings.Join(parts, "; ")
	return res
}
