package fit

import (
	"fmt"
	"math"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/design"
	"gocomp/domain/posterior"
)

// Model is one fitted compositional model. Immutable once produced: re-fits
// (outlier passes, new configurations) build a new Model rather than mutating
// this one, and every downstream component reads it concurrently without
// coordination.
type Model struct {
	ID core.ModelID

	Table  *counts.Table
	Design *design.Matrices
	Config Config

	Layout *Layout
	Draws  *posterior.Draws

	Convergence Convergence
	Manifest    Manifest

	// PointwiseLogLik holds per-draw, per-cell log-likelihood values,
	// retained only when Config.EnableLOO is set. Cell index is
	// CellIndex(sample, group).
	PointwiseLogLik [][]float64

	// Flags are the outlier verdicts this fit was conditioned on; flagged
	// cells were excluded from the likelihood.
	Flags []OutlierFlag
	// Passes is the observable history of the outlier loop that produced
	// this model, empty for an initial fit.
	Passes []Pass
}

// CellIndex flattens a (sample index, group index) pair
func (m *Model) CellIndex(s, g int) int { return s*m.Table.GroupCount() + g }

// CellCount returns the number of (sample, group) cells
func (m *Model) CellCount() int { return m.Table.SampleCount() * m.Table.GroupCount() }

// Degraded reports whether convergence diagnostics exceeded the soft limit
func (m *Model) Degraded() bool { return m.Convergence.Degraded }

// Warnings returns the convergence warnings attached to this fit
func (m *Model) Warnings() []string { return m.Convergence.Warnings }

// ExcludedSet returns the cells excluded from this fit's likelihood
func (m *Model) ExcludedSet() map[CellKey]bool {
	set := make(map[CellKey]bool)
	for _, f := range m.Flags {
		if f.Flagged {
			set[CellKey{f.Sample, f.Group}] = true
		}
	}
	return set
}

// BetaSeries returns the posterior draws of one composition coefficient
func (m *Model) BetaSeries(group core.GroupID, column string) ([]float64, error) {
	series, ok := m.Draws.Series(BetaName(group, column))
	if !ok {
		return nil, fmt.Errorf("no composition coefficient for group %s, column %s", group, column)
	}
	return series, nil
}

// GammaSeries returns the posterior draws of one variability coefficient
func (m *Model) GammaSeries(group core.GroupID, column string) ([]float64, error) {
	series, ok := m.Draws.Series(GammaName(group, column))
	if !ok {
		return nil, fmt.Errorf("no variability coefficient for group %s, column %s", group, column)
	}
	return series, nil
}

// LogLik exposes the retained pointwise log-likelihood matrix, nil unless the
// fit ran with EnableLOO
func (m *Model) LogLik() [][]float64 { return m.PointwiseLogLik }

// LinearPredictor computes the logit-scale predictor for every (sample,
// group) under one posterior draw
func (m *Model) LinearPredictor(draw int) [][]float64 {
	S := m.Table.SampleCount()
	G := m.Table.GroupCount()
	vec := m.Draws.Values[draw]

	eta := make([][]float64, S)
	for s := 0; s < S; s++ {
		xs := m.Design.CompositionRow(s)
		row := make([]float64, G)
		for g := 0; g < G; g++ {
			v := 0.0
			for p, x := range xs {
				v += x * vec[m.Layout.Beta[g][p]]
			}
			if m.Layout.HasRandom() {
				level := m.Design.Random.Index[s]
				v += vec[m.Layout.U[level][g]]
			}
			row[g] = v
		}
		eta[s] = row
	}
	return eta
}

// Concentration computes every (sample, group) concentration under one draw
func (m *Model) Concentration(draw int) [][]float64 {
	S := m.Table.SampleCount()
	G := m.Table.GroupCount()
	vec := m.Draws.Values[draw]

	phi := make([][]float64, S)
	for s := 0; s < S; s++ {
		zs := m.Design.VariabilityRow(s)
		row := make([]float64, G)
		for g := 0; g < G; g++ {
			v := 0.0
			for q, z := range zs {
				v += z * vec[m.Layout.Gamma[g][q]]
			}
			row[g] = math.Exp(v)
		}
		phi[s] = row
	}
	return phi
}

// ProportionSummary summarizes each cell's expected proportion on the
// proportion scale, for plotting collaborators
func (m *Model) ProportionSummary(level float64) ([]ProportionSummary, error) {
	S := m.Table.SampleCount()
	G := m.Table.GroupCount()
	n := m.Draws.Len()
	if n == 0 {
		return nil, fmt.Errorf("model has no retained draws")
	}

	series := make([][]float64, S*G)
	for i := range series {
		series[i] = make([]float64, n)
	}
	for k := 0; k < n; k++ {
		eta := m.LinearPredictor(k)
		for s := 0; s < S; s++ {
			mu := Softmax(eta[s])
			for g := 0; g < G; g++ {
				series[m.CellIndex(s, g)][k] = mu[g]
			}
		}
	}

	out := make([]ProportionSummary, 0, S*G)
	for s := 0; s < S; s++ {
		for g := 0; g < G; g++ {
			sum, err := posterior.Summarize(series[m.CellIndex(s, g)], level)
			if err != nil {
				return nil, err
			}
			out = append(out, ProportionSummary{
				Sample: m.Table.Samples[s],
				Group:  m.Table.Groups[g],
				Mean:   sum.Mean,
				Median: sum.Median,
				Lower:  sum.Lower,
				Upper:  sum.Upper,
			})
		}
	}
	return out, nil
}

// Softmax maps logit-scale predictors onto the simplex, shifted by the row
// maximum so extreme logits cannot overflow
func Softmax(eta []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range eta {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(eta))
	sum := 0.0
	for i, v := range eta {
		e := math.Exp(v - max)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
