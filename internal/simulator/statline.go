package simulator

import (
	"fmt"
	"sort"
	"time"
)

// StatLine is one game's worth of category values, keyed by category name.
// Category names are matched by exact, case-sensitive equality everywhere.
type StatLine map[string]float64

// StatRow is a dated StatLine. The date is carried for display and debugging
// only; nothing in the sampling path depends on row order.
type StatRow struct {
	Date   time.Time
	Values StatLine
}

// StatTable is an ordered collection of per-game rows over a fixed set of
// tracked categories. Rows where every tracked value is zero are treated as
// "did not play" and are excluded before deriving statistics or sampling.
type StatTable struct {
	Columns []string
	Rows    []StatRow
}

// Len returns the number of rows in the table.
func (t StatTable) Len() int {
	return len(t.Rows)
}

// IsEmpty reports whether the table has no usable data.
func (t StatTable) IsEmpty() bool {
	return len(t.Rows) == 0 || len(t.Columns) == 0
}

// WithoutDNPGames returns a copy of the table with all-zero rows removed.
func (t StatTable) WithoutDNPGames() StatTable {
	kept := make([]StatRow, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row.isDNP(t.Columns) {
			continue
		}
		kept = append(kept, row)
	}
	return StatTable{Columns: t.Columns, Rows: kept}
}

func (r StatRow) isDNP(columns []string) bool {
	for _, c := range columns {
		if r.Values[c] != 0 {
			return false
		}
	}
	return true
}

func (t StatTable) columnValues(c string) []float64 {
	vals := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		vals[i] = row.Values[c]
	}
	return vals
}

// Distribution holds per-category means and standard deviations. The two key
// sets are always identical; NewDistribution enforces that.
type Distribution struct {
	Means  map[string]float64
	Stdevs map[string]float64
}

// NewDistribution validates that means and stdevs cover the same categories.
func NewDistribution(means, stdevs map[string]float64) (Distribution, error) {
	if !keysMatch(means, stdevs) {
		return Distribution{}, &ValidationError{
			Msg: fmt.Sprintf("distribution keys mismatch: means %v, stdevs %v",
				sortedKeys(means), sortedKeys(stdevs)),
		}
	}
	return Distribution{Means: means, Stdevs: stdevs}, nil
}

// Categories returns the tracked category names in sorted order.
func (d Distribution) Categories() []string {
	return sortedKeys(d.Means)
}

func keysMatch(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
