package sampler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"gocomp/domain/core"
	"gocomp/domain/fit"
	"gocomp/domain/posterior"
	apperrors "gocomp/internal/errors"
	"gocomp/ports"
)

// Engine runs posterior sampling for the compositional model. Chains execute
// in parallel up to the configured core count, each on its own RNG stream,
// and are merged only after every chain has finished.
type Engine struct {
	rng ports.RNGPort
}

// NewEngine creates a sampling engine over the given RNG port
func NewEngine(rng ports.RNGPort) *Engine {
	return &Engine{rng: rng}
}

var _ ports.Fitter = (*Engine)(nil)

// Fit runs the configured number of chains and assembles an immutable fitted
// model. Convergence above the soft limit attaches warnings; above the hard
// limit the fit fails with a convergence error. Cancellation takes effect
// between chains: no new chain starts and finished work is discarded.
func (e *Engine) Fit(ctx context.Context, req ports.FitRequest) (*fit.Model, error) {
	if req.Table == nil || req.Design == nil {
		return nil, apperrors.InvalidInput("fit request needs a table and a design")
	}
	if req.Table.GroupCount() < 2 {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput,
			core.NewMalformedInputError("groups", "compositional model needs at least two cell groups"))
	}
	cfg := req.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInvalidInput, err)
	}

	runID := req.RunID
	if runID == "" {
		runID = core.RunID(core.NewID())
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	m := newModelData(req.Table, req.Design, cfg, req.Exclude)
	log.Printf("[Sampler] run %s: %d chains x %d draws (warmup %d, thin %d, cores %d, params %d)",
		runID, cfg.Chains, cfg.Samples, cfg.Warmup, cfg.Thin, cfg.Cores, m.layout.Size())

	start := time.Now()
	results := make([]*chainResult, cfg.Chains)
	sem := semaphore.NewWeighted(int64(cfg.Cores))
	var wg sync.WaitGroup

	var launchErr error
	for i := 0; i < cfg.Chains; i++ {
		stream, err := e.rng.ChainStream(ctx, runID.String(), i, seed)
		if err != nil {
			launchErr = err
			break
		}
		// Acquire blocks until a core frees up; a canceled context stops
		// further launches here, between chains.
		if err := sem.Acquire(ctx, 1); err != nil {
			launchErr = err
			break
		}
		wg.Add(1)
		go func(idx int, stream *rand.Rand) {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = runChain(m, cfg, stream)
		}(i, stream)
	}
	wg.Wait()

	if launchErr != nil || ctx.Err() != nil {
		cause := launchErr
		if cause == nil {
			cause = ctx.Err()
		}
		log.Printf("[Sampler] run %s: aborted between chains, partial results discarded", runID)
		return nil, apperrors.WithCode(apperrors.CodeSamplingAborted,
			fmt.Errorf("sampling aborted: %w", cause))
	}

	chains := make([]*posterior.ChainDraws, cfg.Chains)
	acceptance := make([]float64, cfg.Chains)
	for i, r := range results {
		chains[i] = r.draws
		acceptance[i] = r.acceptRate
	}

	merged, err := posterior.Merge(chains)
	if err != nil {
		return nil, apperrors.Wrap(err, "merging chains")
	}

	conv := buildConvergence(chains, merged.Len())
	if conv.MaxRHat > fit.RHatHard {
		worst := worstParam(conv.Params)
		return nil, apperrors.ConvergenceError(
			fmt.Sprintf("run %s failed convergence", runID),
			core.NewConvergenceError(conv.MaxRHat, worst))
	}

	var logLik [][]float64
	if cfg.EnableLOO {
		for _, r := range results {
			logLik = append(logLik, r.logLik...)
		}
	}

	modelID := core.ModelID(core.NewID())
	model := &fit.Model{
		ID:          modelID,
		Table:       req.Table,
		Design:      req.Design,
		Config:      cfg,
		Layout:      m.layout,
		Draws:       merged,
		Convergence: conv,
		Manifest: fit.Manifest{
			RunID:      runID,
			ModelID:    modelID,
			Seed:       seed,
			Chains:     cfg.Chains,
			Warmup:     cfg.Warmup,
			Samples:    cfg.Samples,
			Thin:       cfg.Thin,
			Cores:      cfg.Cores,
			Bimodal:    cfg.BimodalMeanVariability,
			EnableLOO:  cfg.EnableLOO,
			DurationMS: time.Since(start).Milliseconds(),
			Acceptance: acceptance,
			DataHash:   req.Table.Fingerprint,
			DesignHash: req.Design.Hash,
			CreatedAt:  core.Now(),
		},
		PointwiseLogLik: logLik,
		Flags:           req.Flags,
		Passes:          req.Passes,
	}

	log.Printf("[Sampler] run %s: merged %d draws in %dms (max rhat %.3f, min ess %.0f, degraded %v)",
		runID, merged.Len(), model.Manifest.DurationMS, conv.MaxRHat, conv.MinESS, conv.Degraded)
	return model, nil
}

// buildConvergence diagnoses the finished chains and derives the degraded
// status and warnings
func buildConvergence(chains []*posterior.ChainDraws, totalDraws int) fit.Convergence {
	diags := posterior.Diagnose(chains)
	conv := fit.Convergence{Params: diags, MaxRHat: 1, MinESS: float64(totalDraws)}
	for _, d := range diags {
		if d.RHat > conv.MaxRHat {
			conv.MaxRHat = d.RHat
		}
		if d.ESS < conv.MinESS {
			conv.MinESS = d.ESS
		}
	}
	if conv.MaxRHat > fit.RHatDegraded {
		conv.Degraded = true
		conv.Warnings = append(conv.Warnings,
			fmt.Sprintf("potential scale reduction %.3f for %s exceeds %.2f; posterior is degraded but usable",
				conv.MaxRHat, worstParam(diags), fit.RHatDegraded))
	}
	if conv.MinESS < 50 {
		conv.Degraded = true
		conv.Warnings = append(conv.Warnings,
			fmt.Sprintf("effective sample size %.0f is too small for stable tail probabilities", conv.MinESS))
	}
	return conv
}

func worstParam(diags []posterior.ParamDiagnostic) string {
	worst, rhat := "", 0.0
	for _, d := range diags {
		if d.RHat > rhat {
			rhat = d.RHat
			worst = d.Name
		}
	}
	return worst
}
