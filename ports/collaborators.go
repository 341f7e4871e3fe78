package ports

import (
	"context"

	"gocomp/domain/counts"
	"gocomp/domain/fit"
)

// FormatAdapter converts an external single-cell container into raw
// observation records. Adapter failures surface as malformed input; the core
// never sees the container format itself.
type FormatAdapter interface {
	Observations(ctx context.Context) ([]counts.Observation, error)
}

// PlotData is the read-only view a plotting collaborator consumes. The core
// performs no rendering.
type PlotData interface {
	// ProportionSummaries exposes per-cell posterior proportions at the
	// given credible level.
	ProportionSummaries(level float64) ([]fit.ProportionSummary, error)

	// OutlierFlags exposes the final outlier verdicts.
	OutlierFlags() []fit.OutlierFlag

	// EffectEstimates exposes the effect estimates the view was built with.
	EffectEstimates() []fit.Effect
}

// ElpdReport is an information-criterion style model comparison summary
type ElpdReport struct {
	// Elpd is the expected log pointwise predictive density estimate.
	Elpd float64 `json:"elpd"`
	// SE is its standard error across cells.
	SE float64 `json:"se"`
	// Pointwise holds the per-cell contributions.
	Pointwise []float64 `json:"pointwise"`
}

// ModelComparison consumes the pointwise log-likelihood matrix retained when
// a fit runs with EnableLOO. The core's obligation ends at retain-and-expose.
type ModelComparison interface {
	Elpd(ctx context.Context, logLik [][]float64) (*ElpdReport, error)
}
