// Package loo consumes the pointwise log-likelihood matrix retained by a fit
// to estimate leave-one-out predictive accuracy. It is a reference consumer
// of the model comparison port; the fitter's obligation ends at retaining
// and exposing the matrix.
package loo

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	apperrors "gocomp/internal/errors"
	"gocomp/ports"
)

// Comparison estimates the expected log pointwise predictive density (elpd)
// by importance sampling, truncating the raw weights at sqrt(S) times their
// mean so a handful of extreme ratios cannot dominate a cell's estimate.
type Comparison struct{}

// NewComparison creates the truncated importance sampling estimator
func NewComparison() *Comparison { return &Comparison{} }

var _ ports.ModelComparison = (*Comparison)(nil)

// Elpd computes the leave-one-out elpd estimate from a draws-by-cells
// log-likelihood matrix. The matrix must be rectangular and finite; fits run
// without LOO retention have no matrix and are rejected.
func (c *Comparison) Elpd(ctx context.Context, logLik [][]float64) (*ports.ElpdReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(logLik) == 0 || len(logLik[0]) == 0 {
		return nil, apperrors.InvalidInput("model comparison requires a retained pointwise log-likelihood matrix")
	}

	draws := len(logLik)
	cells := len(logLik[0])
	for k, row := range logLik {
		if len(row) != cells {
			return nil, apperrors.InvalidInput(fmt.Sprintf("log-likelihood row %d has %d cells, expected %d", k, len(row), cells))
		}
		for i, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, apperrors.InvalidInput(fmt.Sprintf("log-likelihood is not finite at draw %d, cell %d", k, i))
			}
		}
	}

	pointwise := make([]float64, cells)
	lw := make([]float64, draws)
	num := make([]float64, draws)
	halfLogS := 0.5 * math.Log(float64(draws))

	for i := 0; i < cells; i++ {
		// Leave-one-out importance ratios are the reciprocal densities,
		// so the log weights are the negated log-likelihoods.
		for k := 0; k < draws; k++ {
			lw[k] = -logLik[k][i]
		}
		logBound := floats.LogSumExp(lw) - halfLogS
		for k := 0; k < draws; k++ {
			w := math.Min(lw[k], logBound)
			lw[k] = w
			num[k] = w + logLik[k][i]
		}
		pointwise[i] = floats.LogSumExp(num) - floats.LogSumExp(lw)
	}

	elpd, err := stats.Sum(pointwise)
	if err != nil {
		return nil, apperrors.InternalError(fmt.Sprintf("summing pointwise elpd: %v", err))
	}
	report := &ports.ElpdReport{Elpd: elpd, SE: 0, Pointwise: pointwise}
	if cells > 1 {
		variance, err := stats.SampleVariance(pointwise)
		if err != nil {
			return nil, apperrors.InternalError(fmt.Sprintf("pointwise variance: %v", err))
		}
		report.SE = math.Sqrt(float64(cells) * variance)
	}
	return report, nil
}

// Difference reports the elpd gap b minus a together with the standard error
// of the paired pointwise differences. Positive values favor b.
func Difference(a, b *ports.ElpdReport) (float64, float64, error) {
	if a == nil || b == nil {
		return 0, 0, apperrors.InvalidInput("model comparison requires two elpd reports")
	}
	if len(a.Pointwise) != len(b.Pointwise) {
		return 0, 0, apperrors.InvalidInput(fmt.Sprintf("elpd reports cover %d and %d cells; comparisons need a shared dataset", len(a.Pointwise), len(b.Pointwise)))
	}
	diffs := make([]float64, len(a.Pointwise))
	for i := range diffs {
		diffs[i] = b.Pointwise[i] - a.Pointwise[i]
	}
	gap := b.Elpd - a.Elpd
	if len(diffs) < 2 {
		return gap, 0, nil
	}
	variance, err := stats.SampleVariance(diffs)
	if err != nil {
		return 0, 0, apperrors.InternalError(fmt.Sprintf("pointwise difference variance: %v", err))
	}
	return gap, math.Sqrt(float64(len(diffs)) * variance), nil
}
