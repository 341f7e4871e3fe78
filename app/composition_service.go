package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/design"
	"gocomp/domain/fit"
	"gocomp/domain/formula"
	apperrors "gocomp/internal/errors"
	"gocomp/ports"
)

// CompositionService orchestrates the analysis pipeline: normalize raw
// observations, resolve the design matrices, run the fitter, persist the
// result. Downstream reads (testing, plotting, replication) work directly on
// the immutable model the service returns.
type CompositionService struct {
	fitter  ports.Fitter
	refiner ports.OutlierRefiner
	store   ports.ModelStore
}

// NewCompositionService creates the service. A nil store disables
// persistence; fits are still returned to the caller.
func NewCompositionService(fitter ports.Fitter, refiner ports.OutlierRefiner, store ports.ModelStore) *CompositionService {
	return &CompositionService{
		fitter:  fitter,
		refiner: refiner,
		store:   store,
	}
}

// AnalysisRequest defines inputs for one fit
type AnalysisRequest struct {
	Observations []counts.Observation
	// CountMode selects count-column vs per-row interpretation; empty means
	// the count column.
	CountMode counts.CountMode

	// Composition is the mean formula, e.g. "~ type" or "~ type + (1 | batch)".
	Composition string
	// Variability optionally models the concentration from a subset of the
	// composition covariates; empty means intercept-only.
	Variability string

	Config fit.Config
	// RunID names the run; empty draws a fresh ID.
	RunID core.RunID
}

// Fit validates and normalizes the observations, builds the design and runs
// the sampler. Input validation fails before any inference work starts.
func (s *CompositionService) Fit(ctx context.Context, req AnalysisRequest) (*fit.Model, error) {
	start := time.Now()

	table, err := counts.Normalize(req.Observations, counts.NormalizeOptions{Mode: req.CountMode})
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput, err)
	}
	spec, err := formula.ParseSpec(req.Composition, req.Variability)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeFormulaError, err)
	}
	mats, err := design.Build(spec, table)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeFormulaError, err)
	}

	model, err := s.fitter.Fit(ctx, ports.FitRequest{
		Table:  table,
		Design: mats,
		Config: req.Config,
		RunID:  req.RunID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, model); err != nil {
		return nil, err
	}

	log.Printf("[Service] fit %s: %d samples x %d groups in %dms",
		model.Manifest.RunID, table.SampleCount(), table.GroupCount(), time.Since(start).Milliseconds())
	return model, nil
}

// FitFrom pulls observations through a format adapter before fitting.
// Adapter failures surface as malformed input.
func (s *CompositionService) FitFrom(ctx context.Context, src ports.FormatAdapter, req AnalysisRequest) (*fit.Model, error) {
	if src == nil {
		return nil, apperrors.InvalidInput("format adapter is required")
	}
	obs, err := src.Observations(ctx)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput,
			fmt.Errorf("%w: format adapter: %v", core.ErrMalformedInput, err))
	}
	req.Observations = obs
	return s.Fit(ctx, req)
}

// DetectOutliers runs the bounded flag-and-refit loop on a fitted model and
// persists the final state. The returned model supersedes the input; the
// input itself is never mutated.
func (s *CompositionService) DetectOutliers(ctx context.Context, model *fit.Model, threshold float64, maxPasses int) (*fit.Model, []fit.OutlierFlag, error) {
	if s.refiner == nil {
		return nil, nil, apperrors.InvalidInput("no outlier refiner configured")
	}
	refined, flags, err := s.refiner.DetectAndRefit(ctx, model, threshold, maxPasses)
	if err != nil {
		return nil, nil, err
	}
	if err := s.persist(ctx, refined); err != nil {
		return nil, nil, err
	}
	return refined, flags, nil
}

// Manifests lists persisted fit manifests, newest first
func (s *CompositionService) Manifests(ctx context.Context, filters ports.ManifestFilters) ([]fit.Manifest, error) {
	if s.store == nil {
		return nil, apperrors.InvalidInput("no model store configured")
	}
	return s.store.ListManifests(ctx, filters)
}

func (s *CompositionService) persist(ctx context.Context, model *fit.Model) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveModel(ctx, model); err != nil {
		return fmt.Errorf("persisting model %s: %w", model.ID, err)
	}
	return nil
}
