package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound      = errors.New("resource not found")
	ErrModelNotFound = fmt.Errorf("%w: model", ErrNotFound)
	ErrRunNotFound   = fmt.Errorf("%w: run", ErrNotFound)

	// Input errors
	ErrMalformedInput = errors.New("malformed input")
	ErrEmptyCounts    = fmt.Errorf("%w: empty count table", ErrMalformedInput)
	ErrNegativeCount  = fmt.Errorf("%w: negative count", ErrMalformedInput)
	ErrRaggedTable    = fmt.Errorf("%w: inconsistent group sets across samples", ErrMalformedInput)

	// Formula errors
	ErrFormula              = errors.New("invalid formula")
	ErrUnknownCovariate     = fmt.Errorf("%w: unknown covariate", ErrFormula)
	ErrVariabilityNotInMean = fmt.Errorf("%w: variability covariate absent from composition formula", ErrFormula)

	// Inference errors
	ErrConvergence     = errors.New("chains failed to converge")
	ErrUnknownContrast = errors.New("contrast references unknown effect")
	ErrExhaustedPasses = errors.New("outlier refinement pass budget exhausted")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewMalformedInputError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedInput, field, reason)
}

func NewFormulaError(formula string, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrFormula, formula, reason)
}

func NewConvergenceError(rhat float64, parameter string) error {
	return fmt.Errorf("%w: r-hat %.3f for %s exceeds hard limit", ErrConvergence, rhat, parameter)
}

func NewUnknownContrastError(expr string, term string) error {
	return fmt.Errorf("%w: %q names %q", ErrUnknownContrast, expr, term)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsMalformedInputError(err error) bool {
	return errors.Is(err, ErrMalformedInput)
}

func IsFormulaError(err error) bool {
	return errors.Is(err, ErrFormula)
}

func IsConvergenceError(err error) bool {
	return errors.Is(err, ErrConvergence)
}

func IsUnknownContrastError(err error) bool {
	return errors.Is(err, ErrUnknownContrast)
}
