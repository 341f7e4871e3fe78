package counts

import (
	"fmt"

	"gocomp/domain/core"
)

// CovariateKind distinguishes how a covariate enters the design matrix
type CovariateKind string

const (
	KindCategorical CovariateKind = "categorical"
	KindNumeric     CovariateKind = "numeric"
)

// Covariate is a single covariate value attached to a sample
type Covariate struct {
	Kind  CovariateKind `json:"kind"`
	Level string        `json:"level,omitempty"`
	Value float64       `json:"value,omitempty"`
}

// Level creates a categorical covariate value
func Level(s string) Covariate {
	return Covariate{Kind: KindCategorical, Level: s}
}

// Number creates a numeric covariate value
func Number(v float64) Covariate {
	return Covariate{Kind: KindNumeric, Value: v}
}

// Equal reports whether two covariate values are identical
func (c Covariate) Equal(other Covariate) bool {
	if c.Kind != other.Kind {
		return false
	}
	if c.Kind == KindCategorical {
		return c.Level == other.Level
	}
	return c.Value == other.Value
}

// String renders the value for audit output
func (c Covariate) String() string {
	if c.Kind == KindCategorical {
		return c.Level
	}
	return fmt.Sprintf("%g", c.Value)
}

// Observation is one raw (sample, group) record as yielded by a format adapter
type Observation struct {
	Sample     core.SampleID        `json:"sample"`
	Group      core.GroupID         `json:"group"`
	Count      int64                `json:"count"`
	Covariates map[string]Covariate `json:"covariates,omitempty"`
}

// Table is the canonical count representation consumed by all downstream
// components. Rows are samples, columns are cell groups, both in stable
// first-appearance order. Immutable once built.
type Table struct {
	Samples []core.SampleID
	Groups  []core.GroupID

	// Counts is dense: Counts[s][g] for sample index s, group index g.
	// Pairs absent from the input are zero.
	Counts [][]int64

	// Totals holds per-sample cell totals; a sample's groups partition it.
	Totals []int64

	// Covariates holds per-sample covariate values, constant within a sample.
	Covariates map[core.SampleID]map[string]Covariate

	// Fingerprint makes repeated fits on the same data recognizable.
	Fingerprint core.DataHash
	CreatedAt   core.Timestamp

	sampleIndex map[core.SampleID]int
	groupIndex  map[core.GroupID]int
}

// SampleCount returns the number of samples (rows)
func (t *Table) SampleCount() int { return len(t.Samples) }

// GroupCount returns the number of cell groups (columns)
func (t *Table) GroupCount() int { return len(t.Groups) }

// SampleIndex returns the row index for a sample
func (t *Table) SampleIndex(id core.SampleID) (int, bool) {
	i, ok := t.sampleIndex[id]
	return i, ok
}

// GroupIndex returns the column index for a group
func (t *Table) GroupIndex(id core.GroupID) (int, bool) {
	i, ok := t.groupIndex[id]
	return i, ok
}

// Count returns the cell count for a (sample, group) pair, zero when absent
func (t *Table) Count(sample core.SampleID, group core.GroupID) int64 {
	s, ok := t.sampleIndex[sample]
	if !ok {
		return 0
	}
	g, ok := t.groupIndex[group]
	if !ok {
		return 0
	}
	return t.Counts[s][g]
}

// Covariate returns a sample's value for a covariate key
func (t *Table) Covariate(sample core.SampleID, key string) (Covariate, bool) {
	vals, ok := t.Covariates[sample]
	if !ok {
		return Covariate{}, false
	}
	v, ok := vals[key]
	return v, ok
}

// Proportions returns observed per-sample proportions, samples × groups
func (t *Table) Proportions() [][]float64 {
	props := make([][]float64, len(t.Samples))
	for s := range t.Samples {
		row := make([]float64, len(t.Groups))
		total := float64(t.Totals[s])
		for g := range t.Groups {
			row[g] = float64(t.Counts[s][g]) / total
		}
		props[s] = row
	}
	return props
}

// Validate ensures the table is internally consistent
func (t *Table) Validate() error {
	if len(t.Samples) == 0 || len(t.Groups) == 0 {
		return core.ErrEmptyCounts
	}
	if len(t.Counts) != len(t.Samples) {
		return core.NewMalformedInputError("counts", "row count does not match sample count")
	}
	if len(t.Totals) != len(t.Samples) {
		return core.NewMalformedInputError("totals", "length does not match sample count")
	}
	for s, row := range t.Counts {
		if len(row) != len(t.Groups) {
			return core.NewMalformedInputError("counts",
				fmt.Sprintf("sample %s has %d columns, expected %d", t.Samples[s], len(row), len(t.Groups)))
		}
		var sum int64
		for g, c := range row {
			if c < 0 {
				return fmt.Errorf("%w: sample %s group %s: %d", core.ErrNegativeCount, t.Samples[s], t.Groups[g], c)
			}
			sum += c
		}
		if sum != t.Totals[s] {
			return core.NewMalformedInputError("totals",
				fmt.Sprintf("sample %s groups sum to %d, total records %d", t.Samples[s], sum, t.Totals[s]))
		}
		if sum == 0 {
			return core.NewMalformedInputError("counts",
				fmt.Sprintf("sample %s has zero total count", t.Samples[s]))
		}
	}
	return nil
}
