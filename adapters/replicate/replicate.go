package replicate

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gocomp/domain/counts"
	"gocomp/domain/fit"
	apperrors "gocomp/internal/errors"
	"gocomp/internal/randdist"
	"gocomp/ports"
)

// Mode selects which level of the generative process replicates draw from
type Mode string

const (
	// ModeFull generates counts under each posterior draw's fitted group
	// coefficients.
	ModeFull Mode = "full"
	// ModeHyper redraws group coefficients from the hyperprior level of each
	// posterior draw, ignoring fitted per-group and per-sample estimates.
	// Useful for what-if simulation from a partial model.
	ModeHyper Mode = "hyper"
)

// Options configure a replicate sequence
type Options struct {
	// Draws is the number of replicate datasets; defaults to one.
	Draws int
	// Mode defaults to ModeFull.
	Mode Mode
	// Totals conditions replicates on custom per-sample totals instead of the
	// observed ones. Must match the sample count when set.
	Totals []int64
	// Seed overrides the stream seed; 0 reuses the fit's seed.
	Seed int64
}

// Simulator draws replicate count datasets from a fitted model's generative
// process: replicate proportions from the concentration-scaled Dirichlet,
// counts from the conditioned multinomial.
type Simulator struct {
	rng ports.RNGPort
}

// New creates a simulator over the given RNG port
func New(rng ports.RNGPort) *Simulator {
	return &Simulator{rng: rng}
}

// Sequence is a lazy, finite, restartable stream of replicate datasets. Not
// safe for concurrent use; derive one sequence per consumer.
type Sequence struct {
	model  *fit.Model
	opts   Options
	totals []int64

	seed   int64
	stream *rand.Rand
	next   int
}

// Replicates validates the request and returns the sequence positioned at its
// first replicate. Each replicate is generated from one posterior draw,
// cycling through the retained draws in order.
func (s *Simulator) Replicates(ctx context.Context, model *fit.Model, opts Options) (*Sequence, error) {
	if model == nil {
		return nil, apperrors.InvalidInput("replicate simulation needs a fitted model")
	}
	if model.Draws == nil || model.Draws.Len() == 0 {
		return nil, apperrors.InvalidInput("fitted model has no retained draws")
	}
	if opts.Draws <= 0 {
		opts.Draws = 1
	}
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.Mode != ModeFull && opts.Mode != ModeHyper {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown replicate mode %q", opts.Mode))
	}

	totals := model.Table.Totals
	if opts.Totals != nil {
		if len(opts.Totals) != model.Table.SampleCount() {
			return nil, apperrors.InvalidInput(fmt.Sprintf(
				"conditioning totals cover %d samples, table has %d", len(opts.Totals), model.Table.SampleCount()))
		}
		for i, n := range opts.Totals {
			if n <= 0 {
				return nil, apperrors.InvalidInput(fmt.Sprintf(
					"conditioning total for sample %s must be positive, got %d", model.Table.Samples[i], n))
			}
		}
		totals = opts.Totals
	}

	seed := opts.Seed
	if seed == 0 {
		seed = model.Manifest.Seed
	}
	name := fmt.Sprintf("replicate-%s-%s", model.ID, opts.Mode)
	stream, err := s.rng.SeededStream(ctx, name, seed)
	if err != nil {
		return nil, err
	}

	// One draw from the derived stream pins the sequence's own seed, so
	// Reset can rebuild an identical stream without going back to the port.
	seq := &Sequence{
		model:  model,
		opts:   opts,
		totals: totals,
		seed:   stream.Int63(),
	}
	seq.Reset()
	return seq, nil
}

// Len returns the total number of replicates in the sequence
func (q *Sequence) Len() int { return q.opts.Draws }

// Remaining returns how many replicates Next can still yield
func (q *Sequence) Remaining() int { return q.opts.Draws - q.next }

// Reset rewinds the sequence; re-iteration yields identical replicates
func (q *Sequence) Reset() {
	q.stream = rand.New(rand.NewSource(q.seed))
	q.next = 0
}

// Next generates the next replicate dataset, false once the sequence is
// exhausted. Each dataset conserves the conditioning total of every sample.
func (q *Sequence) Next() (*counts.Table, bool) {
	if q.next >= q.opts.Draws {
		return nil, false
	}
	k := q.next % q.model.Draws.Len()
	q.next++

	var eta, phi [][]float64
	if q.opts.Mode == ModeHyper {
		eta, phi = hyperPredictors(q.model, k, q.stream)
	} else {
		eta = q.model.LinearPredictor(k)
		phi = q.model.Concentration(k)
	}

	table := q.model.Table
	S := table.SampleCount()
	G := table.GroupCount()

	records := make([]counts.Observation, 0, S*G)
	for s := 0; s < S; s++ {
		mu := fit.Softmax(eta[s])
		alpha := make([]float64, G)
		for g := 0; g < G; g++ {
			alpha[g] = math.Max(mu[g]*phi[s][g], 1e-8)
		}
		p := randdist.Dirichlet(q.stream, alpha)
		row := randdist.Multinomial(q.stream, q.totals[s], p)

		sample := table.Samples[s]
		for g := 0; g < G; g++ {
			records = append(records, counts.Observation{
				Sample:     sample,
				Group:      table.Groups[g],
				Count:      row[g],
				Covariates: table.Covariates[sample],
			})
		}
	}

	rep, err := counts.Normalize(records, counts.DefaultNormalizeOptions())
	if err != nil {
		// Generated records are dense, positive-total, and duplicate-free.
		panic(fmt.Sprintf("replicate normalization: %v", err))
	}
	return rep, true
}

// hyperPredictors redraws group coefficients from the hyperprior level of one
// posterior draw: composition coefficients from the shared per-column
// hyperparameters, variability intercepts from the mean-variability
// association, remaining variability slopes from their unit-scale prior.
// Sample-level random intercepts are ignored.
func hyperPredictors(m *fit.Model, k int, stream *rand.Rand) ([][]float64, [][]float64) {
	vec := m.Draws.Values[k]
	layout := m.Layout
	S := m.Table.SampleCount()
	G := m.Table.GroupCount()
	P := m.Design.P()
	Q := m.Design.Q()

	beta := make([][]float64, G)
	for g := range beta {
		beta[g] = make([]float64, P)
	}
	for j := 0; j < P; j++ {
		mu := vec[layout.HyperMu[j]]
		tau := vec[layout.HyperTau[j]]
		mean := 0.0
		for g := 0; g < G; g++ {
			beta[g][j] = mu + tau*stream.NormFloat64()
			mean += beta[g][j]
		}
		mean /= float64(G)
		for g := 0; g < G; g++ {
			beta[g][j] -= mean
		}
	}

	gamma := make([][]float64, G)
	a := vec[layout.AssocA]
	sigV := vec[layout.SigmaV]
	for g := 0; g < G; g++ {
		gamma[g] = make([]float64, Q)
		slope := 0.0
		if m.Config.BimodalMeanVariability {
			if stream.Float64() < fit.BimodalPositiveWeight {
				slope = vec[layout.AssocB1]
			} else {
				slope = vec[layout.AssocB0]
			}
		} else {
			slope = vec[layout.AssocB]
		}
		gamma[g][0] = a + slope*beta[g][0] + sigV*stream.NormFloat64()
		for q := 1; q < Q; q++ {
			gamma[g][q] = stream.NormFloat64()
		}
	}

	eta := make([][]float64, S)
	phi := make([][]float64, S)
	for s := 0; s < S; s++ {
		xs := m.Design.CompositionRow(s)
		zs := m.Design.VariabilityRow(s)
		etaRow := make([]float64, G)
		phiRow := make([]float64, G)
		for g := 0; g < G; g++ {
			for j, x := range xs {
				etaRow[g] += x * beta[g][j]
			}
			v := 0.0
			for q, z := range zs {
				v += z * gamma[g][q]
			}
			phiRow[g] = math.Exp(v)
		}
		eta[s] = etaRow
		phi[s] = phiRow
	}
	return eta, phi
}
