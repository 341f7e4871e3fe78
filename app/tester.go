package app

import (
	"fmt"
	"strings"

	"gocomp/domain/core"
	"gocomp/domain/design"
	"gocomp/domain/fit"
	"gocomp/domain/posterior"
	apperrors "gocomp/internal/errors"
)

// TestRequest selects which effects to estimate and how to judge them
type TestRequest struct {
	// Term restricts testing to one covariate or one design column label;
	// empty tests every non-intercept term.
	Term string
	// Contrast compares two factor levels by their design columns, e.g.
	// "typecancer - typehealthy". Mutually exclusive with Term.
	Contrast string

	// Level is the equal-tailed credible interval mass; 0 means 0.95.
	Level float64
	// Threshold is the minimal effect magnitude tested against, on the logit
	// (composition) or log (variability) scale; 0 means 0.2.
	Threshold float64
	// Cutoff is the posterior probability above which an effect is flagged
	// significant; 0 means 0.95.
	Cutoff float64
}

// Tester derives effect estimates from a fitted model. Estimates are
// recomputed per call; nothing is cached on the model.
type Tester struct{}

// NewTester creates a hypothesis tester
func NewTester() *Tester { return &Tester{} }

// Test reports, per cell group, the posterior median, equal-tailed credible
// interval and the probability that the effect magnitude clears the
// threshold. Composition effects are labeled c_<term>, variability effects
// v_<term>; variability effects appear only when the model carried a
// variability formula. A degraded fit marks every derived estimate.
func (t *Tester) Test(model *fit.Model, req TestRequest) (*fit.TestResult, error) {
	if model == nil || model.Draws == nil || model.Draws.Len() == 0 {
		return nil, apperrors.InvalidInput("hypothesis testing needs a fitted model with retained draws")
	}
	if req.Term != "" && req.Contrast != "" {
		return nil, apperrors.InvalidInput("term and contrast are mutually exclusive")
	}

	level := req.Level
	if level <= 0 || level >= 1 {
		level = fit.DefaultCredibleLevel
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = fit.DefaultEffectThreshold
	}
	cutoff := req.Cutoff
	if cutoff <= 0 || cutoff >= 1 {
		cutoff = fit.DefaultSignificanceCutoff
	}

	var effects []fit.Effect
	var err error
	if req.Contrast != "" {
		effects, err = t.contrastEffects(model, req.Contrast, level, threshold, cutoff)
	} else {
		effects, err = t.termEffects(model, req.Term, level, threshold, cutoff)
	}
	if err != nil {
		return nil, err
	}

	return &fit.TestResult{
		Effects:   effects,
		Level:     level,
		Threshold: threshold,
		Cutoff:    cutoff,
		FDR:       expectedFDR(effects),
		Degraded:  model.Degraded(),
		Warnings:  model.Warnings(),
	}, nil
}

// termEffects estimates every selected composition column per group, plus the
// matching variability columns when the model has them
func (t *Tester) termEffects(model *fit.Model, term string, level, threshold, cutoff float64) ([]fit.Effect, error) {
	compCols := selectColumns(model.Design.CompositionSchema, term)
	if term != "" && len(compCols) == 0 {
		return nil, apperrors.WithCode(apperrors.CodeUnknownContrast,
			fmt.Errorf("%w: no design column for term %q", core.ErrUnknownContrast, term))
	}

	var out []fit.Effect
	for _, col := range compCols {
		for _, group := range model.Table.Groups {
			series, err := model.BetaSeries(group, col.Label)
			if err != nil {
				return nil, apperrors.InternalError(err.Error())
			}
			eff, err := summarizeEffect("c_"+col.Label, group, series, level, threshold, cutoff, model.Degraded())
			if err != nil {
				return nil, err
			}
			out = append(out, eff)
		}
	}

	if model.Design.Spec.HasVariabilityTerms() {
		for _, col := range selectColumns(model.Design.VariabilitySchema, term) {
			for _, group := range model.Table.Groups {
				series, err := model.GammaSeries(group, col.Label)
				if err != nil {
					return nil, apperrors.InternalError(err.Error())
				}
				eff, err := summarizeEffect("v_"+col.Label, group, series, level, threshold, cutoff, model.Degraded())
				if err != nil {
					return nil, err
				}
				out = append(out, eff)
			}
		}
	}
	return out, nil
}

// contrastEffects estimates a two-level comparison per group. The variability
// side is included only when both columns exist there.
func (t *Tester) contrastEffects(model *fit.Model, contrast string, level, threshold, cutoff float64) ([]fit.Effect, error) {
	leftSide, rightSide, err := splitContrast(contrast)
	if err != nil {
		return nil, err
	}
	comp := model.Design.CompositionSchema
	left, err := resolveContrastSide(comp, contrast, leftSide)
	if err != nil {
		return nil, err
	}
	right, err := resolveContrastSide(comp, contrast, rightSide)
	if err != nil {
		return nil, err
	}

	var out []fit.Effect
	label := fmt.Sprintf("c_%s - %s", left, right)
	for _, group := range model.Table.Groups {
		series, err := differenceSeries(model.BetaSeries, group, left, right)
		if err != nil {
			return nil, err
		}
		eff, err := summarizeEffect(label, group, series, level, threshold, cutoff, model.Degraded())
		if err != nil {
			return nil, err
		}
		out = append(out, eff)
	}

	vari := model.Design.VariabilitySchema
	_, hasLeft := vari.ColumnIndex(left)
	_, hasRight := vari.ColumnIndex(right)
	if model.Design.Spec.HasVariabilityTerms() && hasLeft && hasRight {
		label := fmt.Sprintf("v_%s - %s", left, right)
		for _, group := range model.Table.Groups {
			series, err := differenceSeries(model.GammaSeries, group, left, right)
			if err != nil {
				return nil, err
			}
			eff, err := summarizeEffect(label, group, series, level, threshold, cutoff, model.Degraded())
			if err != nil {
				return nil, err
			}
			out = append(out, eff)
		}
	}
	return out, nil
}

// selectColumns returns the non-intercept columns matching a covariate name
// or an exact column label; an empty term selects them all
func selectColumns(schema design.Schema, term string) []design.Column {
	var out []design.Column
	for _, col := range schema.Columns {
		if col.Label == "(Intercept)" {
			continue
		}
		if term == "" || col.Label == term || col.Covariate == term {
			out = append(out, col)
		}
	}
	return out
}

// splitContrast parses "effectA - effectB"
func splitContrast(expr string) (string, string, error) {
	parts := strings.Split(expr, "-")
	if len(parts) != 2 {
		return "", "", apperrors.WithCode(apperrors.CodeUnknownContrast,
			fmt.Errorf("%w: %q must name two effects joined by '-'", core.ErrUnknownContrast, expr))
	}
	left := strings.TrimSpace(parts[0])
	right := strings.TrimSpace(parts[1])
	if left == "" || right == "" {
		return "", "", apperrors.WithCode(apperrors.CodeUnknownContrast,
			fmt.Errorf("%w: %q has an empty side", core.ErrUnknownContrast, expr))
	}
	return left, right, nil
}

// resolveContrastSide maps one contrast side onto a design column label,
// accepting either the full label ("typecancer") or a bare factor level
// ("cancer") when unambiguous
func resolveContrastSide(schema design.Schema, expr, side string) (string, error) {
	if _, ok := schema.ColumnIndex(side); ok {
		return side, nil
	}
	match := ""
	for _, col := range schema.Columns {
		if col.Level != "" && col.Level == side {
			if match != "" {
				return "", apperrors.WithCode(apperrors.CodeUnknownContrast,
					fmt.Errorf("%w: level %q is ambiguous across covariates", core.ErrUnknownContrast, side))
			}
			match = col.Label
		}
	}
	if match == "" {
		return "", apperrors.WithCode(apperrors.CodeUnknownContrast,
			core.NewUnknownContrastError(expr, side))
	}
	return match, nil
}

// differenceSeries subtracts two coefficient series draw by draw
func differenceSeries(series func(core.GroupID, string) ([]float64, error), group core.GroupID, left, right string) ([]float64, error) {
	a, err := series(group, left)
	if err != nil {
		return nil, apperrors.InternalError(err.Error())
	}
	b, err := series(group, right)
	if err != nil {
		return nil, apperrors.InternalError(err.Error())
	}
	out := make([]float64, len(a))
	for k := range a {
		out[k] = a[k] - b[k]
	}
	return out, nil
}

func summarizeEffect(label string, group core.GroupID, series []float64, level, threshold, cutoff float64, degraded bool) (fit.Effect, error) {
	sum, err := posterior.Summarize(series, level)
	if err != nil {
		return fit.Effect{}, apperrors.InternalError(err.Error())
	}
	tail := posterior.ExceedanceProbability(series, threshold)
	return fit.Effect{
		Label:       label,
		Group:       group,
		Median:      sum.Median,
		Lower:       sum.Lower,
		Upper:       sum.Upper,
		TailProb:    tail,
		Significant: tail > cutoff,
		Degraded:    degraded,
	}, nil
}

// expectedFDR is the mean posterior probability of a null effect over the
// flagged set; zero when nothing is flagged
func expectedFDR(effects []fit.Effect) float64 {
	sum, n := 0.0, 0
	for _, e := range effects {
		if e.Significant {
			sum += 1 - e.TailProb
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
