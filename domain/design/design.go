package design

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/formula"
)

// Column describes one design-matrix column
type Column struct {
	// Label is the R-style concatenation of covariate and level, e.g.
	// "typecancer"; "(Intercept)" for the intercept, the bare covariate
	// name for numeric terms.
	Label     string
	Covariate string
	Level     string
}

// Schema is the resolved, immutable column layout of one formula side
type Schema struct {
	Columns []Column
	// Levels holds each categorical covariate's levels in first-appearance
	// sample order; index 0 is the reference level under an intercept.
	Levels map[string][]string
}

// ColumnIndex finds a column by label
func (s Schema) ColumnIndex(label string) (int, bool) {
	for i, c := range s.Columns {
		if c.Label == label {
			return i, true
		}
	}
	return -1, false
}

// Labels returns the ordered column labels
func (s Schema) Labels() []string {
	labels := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		labels[i] = c.Label
	}
	return labels
}

// RandomDesign maps samples onto the random-intercept factor's levels
type RandomDesign struct {
	Factor string
	Levels []string
	// Index holds each sample's level position, aligned with table.Samples.
	Index []int
}

// LevelCount returns the number of factor levels
func (r *RandomDesign) LevelCount() int { return len(r.Levels) }

// Matrices is the numeric design produced from a formula spec and a count
// table: one matrix per formula side, samples as rows, plus the optional
// random-intercept layout. Immutable once built.
type Matrices struct {
	Spec *formula.Spec

	Composition       *mat.Dense
	CompositionSchema Schema

	Variability       *mat.Dense
	VariabilitySchema Schema

	Random *RandomDesign

	Hash core.DesignHash
}

// P returns the composition design width
func (m *Matrices) P() int { return len(m.CompositionSchema.Columns) }

// Q returns the variability design width
func (m *Matrices) Q() int { return len(m.VariabilitySchema.Columns) }

// CompositionRow returns sample s's composition design row
func (m *Matrices) CompositionRow(s int) []float64 { return m.Composition.RawRowView(s) }

// VariabilityRow returns sample s's variability design row
func (m *Matrices) VariabilityRow(s int) []float64 { return m.Variability.RawRowView(s) }

// Build resolves a formula spec against a normalized table into numeric
// design matrices with a stable column layout: intercept first, then main
// effects in declaration order. Categorical covariates expand to dummy
// columns; under an intercept the first observed level is the reference and
// is dropped, in a no-intercept formula the first factor keeps every level.
// Numeric covariates map to one column carrying their raw values.
func Build(spec *formula.Spec, table *counts.Table) (*Matrices, error) {
	if spec == nil {
		return nil, core.NewFormulaError("", "nil formula spec")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	comp, compSchema, err := buildSide(spec.Composition, table)
	if err != nil {
		return nil, err
	}
	vari, variSchema, err := buildSide(spec.Variability, table)
	if err != nil {
		return nil, err
	}

	m := &Matrices{
		Spec:              spec,
		Composition:       comp,
		CompositionSchema: compSchema,
		Variability:       vari,
		VariabilitySchema: variSchema,
	}

	if spec.Composition.HasRandom() {
		rd, err := buildRandom(spec.Composition.Random.Factor, table)
		if err != nil {
			return nil, err
		}
		m.Random = rd
	}

	labels := append(compSchema.Labels(), variSchema.Labels()...)
	m.Hash = core.ComputeDesignHash(
		[]string{spec.Composition.String(), spec.Variability.String()}, labels)
	return m, nil
}

func buildSide(f *formula.Formula, table *counts.Table) (*mat.Dense, Schema, error) {
	schema := Schema{Levels: make(map[string][]string)}
	var cols [][]float64

	interceptAbsorbed := f.Intercept
	if f.Intercept {
		ones := make([]float64, table.SampleCount())
		for i := range ones {
			ones[i] = 1
		}
		schema.Columns = append(schema.Columns, Column{Label: "(Intercept)"})
		cols = append(cols, ones)
	}

	for _, term := range f.Terms {
		kind, err := covariateKind(term.Covariate, table)
		if err != nil {
			return nil, Schema{}, err
		}

		switch kind {
		case counts.KindNumeric:
			col := make([]float64, table.SampleCount())
			for s, sample := range table.Samples {
				v, ok := table.Covariate(sample, term.Covariate)
				if !ok {
					return nil, Schema{}, core.NewFormulaError(f.Source,
						fmt.Sprintf("covariate %q missing for sample %s", term.Covariate, sample))
				}
				col[s] = v.Value
			}
			schema.Columns = append(schema.Columns, Column{Label: term.Covariate, Covariate: term.Covariate})
			cols = append(cols, col)

		case counts.KindCategorical:
			levels, levelIdx, err := factorLevels(f.Source, term.Covariate, table)
			if err != nil {
				return nil, Schema{}, err
			}
			schema.Levels[term.Covariate] = levels

			start := 1
			if !interceptAbsorbed {
				start = 0
				interceptAbsorbed = true
			}
			if start == 1 && len(levels) < 2 {
				return nil, Schema{}, core.NewFormulaError(f.Source,
					fmt.Sprintf("covariate %q has a single level; nothing to contrast", term.Covariate))
			}
			for _, level := range levels[start:] {
				col := make([]float64, table.SampleCount())
				for s := range table.Samples {
					if levelIdx[s] == level {
						col[s] = 1
					}
				}
				schema.Columns = append(schema.Columns,
					Column{Label: term.Covariate + level, Covariate: term.Covariate, Level: level})
				cols = append(cols, col)
			}
		}
	}

	if len(cols) == 0 {
		return nil, Schema{}, core.NewFormulaError(f.Source, "formula resolves to zero columns")
	}

	dense := mat.NewDense(table.SampleCount(), len(cols), nil)
	for j, col := range cols {
		for s, v := range col {
			dense.Set(s, j, v)
		}
	}
	return dense, schema, nil
}

// covariateKind resolves a covariate's kind and checks it is present and
// consistently typed across all samples
func covariateKind(name string, table *counts.Table) (counts.CovariateKind, error) {
	var kind counts.CovariateKind
	for _, sample := range table.Samples {
		v, ok := table.Covariate(sample, name)
		if !ok {
			return "", core.NewFormulaError(name,
				fmt.Sprintf("covariate %q not present for sample %s", name, sample))
		}
		if kind == "" {
			kind = v.Kind
		} else if v.Kind != kind {
			return "", core.NewFormulaError(name,
				fmt.Sprintf("covariate %q mixes kinds across samples", name))
		}
	}
	if kind == "" {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownCovariate, name)
	}
	return kind, nil
}

// factorLevels collects a categorical covariate's levels in first-appearance
// sample order, plus each sample's level
func factorLevels(src, name string, table *counts.Table) ([]string, []string, error) {
	var levels []string
	seen := make(map[string]bool)
	perSample := make([]string, table.SampleCount())

	for s, sample := range table.Samples {
		v, ok := table.Covariate(sample, name)
		if !ok {
			return nil, nil, core.NewFormulaError(src,
				fmt.Sprintf("covariate %q missing for sample %s", name, sample))
		}
		if !seen[v.Level] {
			seen[v.Level] = true
			levels = append(levels, v.Level)
		}
		perSample[s] = v.Level
	}
	return levels, perSample, nil
}

func buildRandom(factor string, table *counts.Table) (*RandomDesign, error) {
	kind, err := covariateKind(factor, table)
	if err != nil {
		return nil, err
	}
	if kind != counts.KindCategorical {
		return nil, core.NewFormulaError(factor, "random-intercept factor must be categorical")
	}

	levels, perSample, err := factorLevels(factor, factor, table)
	if err != nil {
		return nil, err
	}

	rd := &RandomDesign{Factor: factor, Levels: levels, Index: make([]int, table.SampleCount())}
	pos := make(map[string]int, len(levels))
	for i, l := range levels {
		pos[l] = i
	}
	for s, level := range perSample {
		rd.Index[s] = pos[level]
	}
	return rd, nil
}
