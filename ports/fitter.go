package ports

import (
	"context"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/design"
	"gocomp/domain/fit"
)

// FitRequest is one inference run's full input
type FitRequest struct {
	Table  *counts.Table
	Design *design.Matrices
	Config fit.Config

	// Exclude removes cells from the likelihood (outlier refits).
	Exclude map[fit.CellKey]bool
	// Flags and Passes carry the outlier history onto the produced model.
	Flags  []fit.OutlierFlag
	Passes []fit.Pass

	// RunID names the run for seed derivation; empty means a fresh ID.
	RunID core.RunID
}

// Fitter runs posterior sampling over a normalized table and resolved design,
// producing an immutable fitted model.
type Fitter interface {
	Fit(ctx context.Context, req FitRequest) (*fit.Model, error)
}

// OutlierRefiner drives the bounded flag-and-refit loop over an already
// fitted model, returning the final model and the final flag set.
type OutlierRefiner interface {
	DetectAndRefit(ctx context.Context, model *fit.Model, threshold float64, maxPasses int) (*fit.Model, []fit.OutlierFlag, error)
}
