package sampler

import (
	"context"
	"fmt"
	"log"
	"math"

	"gocomp/domain/core"
	"gocomp/domain/fit"
	apperrors "gocomp/internal/errors"
	"gocomp/internal/randdist"
	"gocomp/ports"
)

// Detector drives the bounded outlier refinement loop: flag cells whose
// observed count sits in the far tail of the posterior predictive
// distribution, refit with those cells excluded, repeat until the flag set
// stops moving or the pass budget runs out. Passes are strictly sequential;
// each refit internally still runs parallel chains.
type Detector struct {
	engine *Engine
	rng    ports.RNGPort
}

// NewDetector creates an outlier detector over a sampling engine
func NewDetector(engine *Engine, rng ports.RNGPort) *Detector {
	return &Detector{engine: engine, rng: rng}
}

var _ ports.OutlierRefiner = (*Detector)(nil)

// DetectAndRefit takes an initial fit and runs up to maxPasses flag/refit
// passes. The returned model carries the full pass history; when two passes
// disagree on a cell, the most recent pass decides. A budget that runs out
// before the flag set stabilizes is a normal terminal state, reported as a
// warning on the returned model rather than an error.
func (d *Detector) DetectAndRefit(ctx context.Context, model *fit.Model, threshold float64, maxPasses int) (*fit.Model, []fit.OutlierFlag, error) {
	if model == nil {
		return nil, nil, apperrors.InvalidInput("outlier detection needs a fitted model")
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = fit.DefaultOutlierTail
	}
	if maxPasses < 1 {
		maxPasses = fit.DefaultMaxPasses
	}

	exclude := model.ExcludedSet()
	history := append([]fit.Pass(nil), model.Passes...)
	cur := model
	start := len(history) + 1

	for p := start; p < start+maxPasses; p++ {
		flags, err := d.flagCells(ctx, cur, threshold, p)
		if err != nil {
			return nil, nil, err
		}
		pass := fit.Pass{Index: p, Flags: flags, FlaggedCount: countFlagged(flags)}
		history = append(history, pass)
		next := pass.FlaggedSet()

		if sameCells(next, exclude) {
			log.Printf("[Outlier] pass %d: flag set stable at %d cells", p, len(next))
			return withOutlierState(cur, flags, history, ""), flags, nil
		}

		log.Printf("[Outlier] pass %d: %d cells flagged, refitting", p, pass.FlaggedCount)
		exclude = next
		refit, err := d.engine.Fit(ctx, ports.FitRequest{
			Table:   cur.Table,
			Design:  cur.Design,
			Config:  cur.Config,
			Exclude: next,
			Flags:   flags,
			Passes:  history,
			RunID:   core.RunID(fmt.Sprintf("%s-pass-%d", model.Manifest.RunID, p)),
		})
		if err != nil {
			return nil, nil, err
		}
		cur = refit
	}

	warning := fmt.Sprintf("%s after %d passes", core.ErrExhaustedPasses.Error(), maxPasses)
	log.Printf("[Outlier] %s", warning)
	last := history[len(history)-1]
	return withOutlierState(cur, last.Flags, history, warning), last.Flags, nil
}

// flagCells computes each cell's two-sided posterior predictive tail
// probability by simulating one replicate count per retained draw. Every cell
// is re-evaluated each pass, so a previously excluded cell can clear.
func (d *Detector) flagCells(ctx context.Context, m *fit.Model, threshold float64, pass int) ([]fit.OutlierFlag, error) {
	name := fmt.Sprintf("outlier-%s-pass-%d", m.Manifest.RunID, pass)
	stream, err := d.rng.SeededStream(ctx, name, m.Manifest.Seed)
	if err != nil {
		return nil, err
	}

	S := m.Table.SampleCount()
	G := m.Table.GroupCount()
	n := m.Draws.Len()
	if n == 0 {
		return nil, apperrors.InternalError("model has no retained draws")
	}

	lower := make([][]int, S)
	upper := make([][]int, S)
	for s := 0; s < S; s++ {
		lower[s] = make([]int, G)
		upper[s] = make([]int, G)
	}

	for k := 0; k < n; k++ {
		eta := m.LinearPredictor(k)
		phi := m.Concentration(k)
		for s := 0; s < S; s++ {
			mu := fit.Softmax(eta[s])
			total := m.Table.Totals[s]
			for g := 0; g < G; g++ {
				a := mu[g] * phi[s][g]
				b := (1 - mu[g]) * phi[s][g]
				rep := randdist.BetaBinomial(stream, total, a, b)
				obs := m.Table.Counts[s][g]
				if rep <= obs {
					lower[s][g]++
				}
				if rep >= obs {
					upper[s][g]++
				}
			}
		}
	}

	// The observation counts among its own replicates, so a tail probability
	// is never exactly zero and its resolution is set by the draw count.
	flags := make([]fit.OutlierFlag, 0, S*G)
	for s := 0; s < S; s++ {
		for g := 0; g < G; g++ {
			lo := float64(lower[s][g]+1) / float64(n+1)
			hi := float64(upper[s][g]+1) / float64(n+1)
			tail := math.Min(2*math.Min(lo, hi), 1)
			flags = append(flags, fit.OutlierFlag{
				Sample:   m.Table.Samples[s],
				Group:    m.Table.Groups[g],
				TailProb: tail,
				Flagged:  tail < threshold,
				Pass:     pass,
			})
		}
	}
	return flags, nil
}

func countFlagged(flags []fit.OutlierFlag) int {
	n := 0
	for _, f := range flags {
		if f.Flagged {
			n++
		}
	}
	return n
}

func sameCells(a, b map[fit.CellKey]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// withOutlierState copies the model with the latest verdicts attached; the
// underlying fit is shared, never mutated
func withOutlierState(m *fit.Model, flags []fit.OutlierFlag, passes []fit.Pass, warning string) *fit.Model {
	out := *m
	out.Flags = flags
	out.Passes = passes
	if warning != "" {
		out.Convergence.Warnings = append(append([]string(nil), m.Convergence.Warnings...), warning)
	}
	return &out
}
