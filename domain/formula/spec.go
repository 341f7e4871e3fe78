package formula

import (
	"fmt"

	"gocomp/domain/core"
)

// Spec pairs the composition formula with the variability formula. The
// variability side models the concentration (inverse-dispersion) and is
// restricted to covariates the composition side already carries, so the two
// linear predictors share design columns.
type Spec struct {
	Composition *Formula
	Variability *Formula
}

// NewSpec validates the pair. A nil variability formula means
// intercept-only concentration.
func NewSpec(composition, variability *Formula) (*Spec, error) {
	if composition == nil {
		return nil, core.NewFormulaError("", "composition formula is required")
	}
	if variability == nil {
		variability = &Formula{Source: "~ 1", Intercept: true}
	}
	if variability.HasRandom() {
		return nil, core.NewFormulaError(variability.Source,
			"random intercepts are not supported in the variability formula")
	}
	if !variability.Intercept {
		return nil, core.NewFormulaError(variability.Source,
			"variability formula must keep its intercept")
	}

	compSet := make(map[string]bool, len(composition.Terms))
	for _, t := range composition.Terms {
		compSet[t.Covariate] = true
	}
	for _, t := range variability.Terms {
		if !compSet[t.Covariate] {
			return nil, fmt.Errorf("%w: %q", core.ErrVariabilityNotInMean, t.Covariate)
		}
	}

	return &Spec{Composition: composition, Variability: variability}, nil
}

// ParseSpec parses both sides from text. An empty variability string means
// intercept-only.
func ParseSpec(composition, variability string) (*Spec, error) {
	comp, err := Parse(composition)
	if err != nil {
		return nil, err
	}
	var vf *Formula
	if variability != "" {
		vf, err = Parse(variability)
		if err != nil {
			return nil, err
		}
	}
	return NewSpec(comp, vf)
}

// HasVariabilityTerms reports whether the variability side models anything
// beyond its intercept
func (s *Spec) HasVariabilityTerms() bool {
	return len(s.Variability.Terms) > 0
}
