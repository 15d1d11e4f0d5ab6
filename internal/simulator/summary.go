package simulator

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ColumnSummary describes one column of the output distribution.
type ColumnSummary struct {
	Mean        float64            `json:"mean"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"std_dev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// Summary maps each result column to its distribution summary.
type Summary map[string]ColumnSummary

// Summarize reduces the raw runs to per-column summary statistics. It is a
// presentation convenience; the row data remains the contract.
func (r Result) Summarize() Summary {
	out := make(Summary, len(r.Columns))
	for _, c := range r.Columns {
		vals := make([]float64, len(r.Runs))
		for i, run := range r.Runs {
			vals[i] = run[c]
		}
		sort.Float64s(vals)

		var cs ColumnSummary
		if len(vals) > 0 {
			cs.Mean = stat.Mean(vals, nil)
			cs.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
			cs.Min = vals[0]
			cs.Max = vals[len(vals)-1]
			if len(vals) > 1 {
				cs.StdDev = stat.StdDev(vals, nil)
			}
			cs.Percentiles = map[string]float64{
				"p10": stat.Quantile(0.10, stat.Empirical, vals, nil),
				"p25": stat.Quantile(0.25, stat.Empirical, vals, nil),
				"p75": stat.Quantile(0.75, stat.Empirical, vals, nil),
				"p90": stat.Quantile(0.90, stat.Empirical, vals, nil),
			}
		}
		out[c] = cs
	}
	return out
}
