package app

import (
	"gocomp/domain/fit"
	apperrors "gocomp/internal/errors"
	"gocomp/ports"
)

// ModelView is the read-only bundle a plotting collaborator consumes: the
// fitted model's proportion summaries, its outlier verdicts and the effect
// estimates derived from it. The view renders nothing.
type ModelView struct {
	model   *fit.Model
	effects []fit.Effect
}

// NewModelView builds the view over a fitted model and optional effect
// estimates
func NewModelView(model *fit.Model, effects []fit.Effect) (*ModelView, error) {
	if model == nil {
		return nil, apperrors.InvalidInput("plot view needs a fitted model")
	}
	return &ModelView{model: model, effects: append([]fit.Effect(nil), effects...)}, nil
}

var _ ports.PlotData = (*ModelView)(nil)

// ProportionSummaries exposes per-cell posterior proportions at the given
// credible level; out-of-range levels fall back to the default
func (v *ModelView) ProportionSummaries(level float64) ([]fit.ProportionSummary, error) {
	if level <= 0 || level >= 1 {
		level = fit.DefaultCredibleLevel
	}
	return v.model.ProportionSummary(level)
}

// OutlierFlags exposes the final outlier verdicts
func (v *ModelView) OutlierFlags() []fit.OutlierFlag {
	return append([]fit.OutlierFlag(nil), v.model.Flags...)
}

// EffectEstimates exposes the effect estimates the view was built with
func (v *ModelView) EffectEstimates() []fit.Effect {
	return append([]fit.Effect(nil), v.effects...)
}
