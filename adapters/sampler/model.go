package sampler

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"gocomp/domain/counts"
	"gocomp/domain/design"
	"gocomp/domain/fit"
)

// Prior constants of the generative model. The composition coefficients
// shrink toward shared per-column hyperparameters; the variability intercepts
// regress on the composition baseline through the association block.
const (
	hyperMuScale  = 2.0 // m_j ~ Normal(0, 2)
	hyperTauScale = 1.0 // s_j ~ HalfNormal(1)
	gammaScale    = 1.0 // non-intercept variability slopes ~ Normal(0, 1)
	assocAScale   = 2.0 // association intercept ~ Normal(0, 2)
	sigmaVScale   = 1.0 // association spread ~ HalfNormal(1)
	sigmaUScale   = 1.0 // random-intercept spread ~ HalfNormal(1)

	// Single-regime association slope prior.
	assocBMean  = -0.5
	assocBScale = 0.5

	// Two-regime mixture on the association slope: most groups sit on the
	// abundant regime, a minority on the rare-program regime.
	mixB0Mean  = -0.8
	mixB0Scale = 0.3
	mixB1Mean  = 0.2
	mixB1Scale = 0.3

	concFloor   = 1e-8
	concCeiling = 1e8
)

// modelData binds one fit's immutable inputs: counts, designs, exclusions,
// and the free-parameter vector layout walked by every chain. Shared
// read-only across chains.
type modelData struct {
	table  *counts.Table
	design *design.Matrices

	S, G, P, Q, L int
	bimodal       bool
	hasRandom     bool

	// excluded[s][g] removes a cell from the likelihood (outlier refits).
	excluded [][]bool

	layout *fit.Layout

	// Free vector offsets. Composition rows and random offsets carry G-1
	// free groups; the last group is the negated sum (sum-to-zero).
	ofBeta     int // (G-1)*P
	ofGamma    int // G*Q
	ofU        int // L*(G-1)
	ofMu       int // P
	ofLogTau   int // P
	ofA        int
	ofB        int // 1 or 2 slots (mixture)
	ofLogSigV  int
	ofLogSigU  int // -1 without random term
	freeSize   int

	stdNormal distuv.Normal
}

func newModelData(table *counts.Table, des *design.Matrices, cfg fit.Config, exclude map[fit.CellKey]bool) *modelData {
	m := &modelData{
		table:   table,
		design:  des,
		S:       table.SampleCount(),
		G:       table.GroupCount(),
		P:       des.P(),
		Q:       des.Q(),
		bimodal: cfg.BimodalMeanVariability,
		stdNormal: distuv.Normal{Mu: 0, Sigma: 1},
	}
	if des.Random != nil {
		m.hasRandom = true
		m.L = des.Random.LevelCount()
	}

	m.excluded = make([][]bool, m.S)
	for s := range m.excluded {
		m.excluded[s] = make([]bool, m.G)
	}
	for key := range exclude {
		si, ok := table.SampleIndex(key.Sample)
		if !ok {
			continue
		}
		gi, ok := table.GroupIndex(key.Group)
		if !ok {
			continue
		}
		m.excluded[si][gi] = true
	}

	var randomLevels []string
	if m.hasRandom {
		randomLevels = des.Random.Levels
	}
	m.layout = fit.NewLayout(fit.LayoutSpec{
		Groups:       table.Groups,
		CompColumns:  des.CompositionSchema.Labels(),
		VarColumns:   des.VariabilitySchema.Labels(),
		RandomLevels: randomLevels,
		Bimodal:      m.bimodal,
	})

	// Free vector layout.
	m.ofBeta = 0
	m.ofGamma = m.ofBeta + (m.G-1)*m.P
	m.ofU = m.ofGamma + m.G*m.Q
	m.ofMu = m.ofU + m.L*maxInt(m.G-1, 0)
	m.ofLogTau = m.ofMu + m.P
	m.ofA = m.ofLogTau + m.P
	m.ofB = m.ofA + 1
	nB := 1
	if m.bimodal {
		nB = 2
	}
	m.ofLogSigV = m.ofB + nB
	next := m.ofLogSigV + 1
	m.ofLogSigU = -1
	if m.hasRandom {
		m.ofLogSigU = next
		next++
	}
	m.freeSize = next
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// betaAt reconstructs one composition coefficient, deriving the last group's
// row from the sum-to-zero constraint
func (m *modelData) betaAt(free []float64, g, p int) float64 {
	if g < m.G-1 {
		return free[m.ofBeta+g*m.P+p]
	}
	sum := 0.0
	for gg := 0; gg < m.G-1; gg++ {
		sum += free[m.ofBeta+gg*m.P+p]
	}
	return -sum
}

func (m *modelData) gammaAt(free []float64, g, q int) float64 {
	return free[m.ofGamma+g*m.Q+q]
}

// uAt reconstructs one random-intercept offset with the per-level
// sum-to-zero constraint across groups
func (m *modelData) uAt(free []float64, l, g int) float64 {
	if !m.hasRandom {
		return 0
	}
	if g < m.G-1 {
		return free[m.ofU+l*(m.G-1)+g]
	}
	sum := 0.0
	for gg := 0; gg < m.G-1; gg++ {
		sum += free[m.ofU+l*(m.G-1)+gg]
	}
	return -sum
}

// cellParams computes one sample's expected proportions and concentrations
func (m *modelData) cellParams(free []float64, s int) (mu, phi []float64) {
	xs := m.design.CompositionRow(s)
	eta := make([]float64, m.G)
	for g := 0; g < m.G; g++ {
		v := 0.0
		for p, x := range xs {
			v += x * m.betaAt(free, g, p)
		}
		if m.hasRandom {
			v += m.uAt(free, m.design.Random.Index[s], g)
		}
		eta[g] = v
	}
	mu = fit.Softmax(eta)

	zs := m.design.VariabilityRow(s)
	phi = make([]float64, m.G)
	for g := 0; g < m.G; g++ {
		v := 0.0
		for q, z := range zs {
			v += z * m.gammaAt(free, g, q)
		}
		phi[g] = math.Exp(v)
		if phi[g] < concFloor {
			phi[g] = concFloor
		}
		if phi[g] > concCeiling {
			phi[g] = concCeiling
		}
	}
	return mu, phi
}

// logLikelihood sums the sum-conditioned beta-binomial log pmf over all
// non-excluded cells
func (m *modelData) logLikelihood(free []float64) float64 {
	ll := 0.0
	for s := 0; s < m.S; s++ {
		mu, phi := m.cellParams(free, s)
		n := m.table.Totals[s]
		for g := 0; g < m.G; g++ {
			if m.excluded[s][g] {
				continue
			}
			a := mu[g] * phi[g]
			b := (1 - mu[g]) * phi[g]
			ll += betaBinomialLogPMF(m.table.Counts[s][g], n, a, b)
		}
	}
	return ll
}

// pointwiseLogLik evaluates every cell (excluded ones too) for LOO retention
func (m *modelData) pointwiseLogLik(free []float64) []float64 {
	out := make([]float64, m.S*m.G)
	for s := 0; s < m.S; s++ {
		mu, phi := m.cellParams(free, s)
		n := m.table.Totals[s]
		for g := 0; g < m.G; g++ {
			a := mu[g] * phi[g]
			b := (1 - mu[g]) * phi[g]
			out[s*m.G+g] = betaBinomialLogPMF(m.table.Counts[s][g], n, a, b)
		}
	}
	return out
}

// logPrior evaluates the hierarchical prior, including the log-scale
// Jacobians for the positive parameters walked in log space
func (m *modelData) logPrior(free []float64, z []int) float64 {
	lp := 0.0

	// Shrinkage: every group's coefficient for column p draws from the
	// shared Normal(m_p, s_p).
	for p := 0; p < m.P; p++ {
		muP := free[m.ofMu+p]
		logTau := free[m.ofLogTau+p]
		tau := math.Exp(logTau)
		lp += normalLogPDF(muP, 0, hyperMuScale)
		lp += halfNormalLogPDF(tau, hyperTauScale) + logTau
		for g := 0; g < m.G; g++ {
			lp += normalLogPDF(m.betaAt(free, g, p), muP, tau)
		}
	}

	// Association block: variability intercepts regress on the composition
	// baseline column.
	a := free[m.ofA]
	logSigV := free[m.ofLogSigV]
	sigV := math.Exp(logSigV)
	lp += normalLogPDF(a, 0, assocAScale)
	lp += halfNormalLogPDF(sigV, sigmaVScale) + logSigV

	if m.bimodal {
		b0 := free[m.ofB]
		b1 := free[m.ofB+1]
		lp += normalLogPDF(b0, mixB0Mean, mixB0Scale)
		lp += normalLogPDF(b1, mixB1Mean, mixB1Scale)
		for g := 0; g < m.G; g++ {
			slope := b0
			w := 1 - fit.BimodalPositiveWeight
			if z[g] == 1 {
				slope = b1
				w = fit.BimodalPositiveWeight
			}
			lp += math.Log(w)
			lp += normalLogPDF(m.gammaAt(free, g, 0), a+slope*m.betaAt(free, g, 0), sigV)
		}
	} else {
		b := free[m.ofB]
		lp += normalLogPDF(b, assocBMean, assocBScale)
		for g := 0; g < m.G; g++ {
			lp += normalLogPDF(m.gammaAt(free, g, 0), a+b*m.betaAt(free, g, 0), sigV)
		}
	}

	// Remaining variability slopes.
	for g := 0; g < m.G; g++ {
		for q := 1; q < m.Q; q++ {
			lp += normalLogPDF(m.gammaAt(free, g, q), 0, gammaScale)
		}
	}

	// Random intercepts.
	if m.hasRandom {
		logSigU := free[m.ofLogSigU]
		sigU := math.Exp(logSigU)
		lp += halfNormalLogPDF(sigU, sigmaUScale) + logSigU
		for l := 0; l < m.L; l++ {
			for g := 0; g < m.G; g++ {
				lp += normalLogPDF(m.uAt(free, l, g), 0, sigU)
			}
		}
	}

	return lp
}

// logPosterior is the chain's target density
func (m *modelData) logPosterior(free []float64, z []int) float64 {
	lp := m.logPrior(free, z)
	if math.IsInf(lp, -1) || math.IsNaN(lp) {
		return math.Inf(-1)
	}
	ll := m.logLikelihood(free)
	if math.IsNaN(ll) {
		return math.Inf(-1)
	}
	return lp + ll
}

// monitored maps the free state onto the reported parameter vector: full
// coefficient blocks with derived rows filled in and positive parameters on
// their natural scale
func (m *modelData) monitored(free []float64, z []int) []float64 {
	out := make([]float64, m.layout.Size())
	for g := 0; g < m.G; g++ {
		for p := 0; p < m.P; p++ {
			out[m.layout.Beta[g][p]] = m.betaAt(free, g, p)
		}
		for q := 0; q < m.Q; q++ {
			out[m.layout.Gamma[g][q]] = m.gammaAt(free, g, q)
		}
	}
	if m.hasRandom {
		for l := 0; l < m.L; l++ {
			for g := 0; g < m.G; g++ {
				out[m.layout.U[l][g]] = m.uAt(free, l, g)
			}
		}
		out[m.layout.SigmaU] = math.Exp(free[m.ofLogSigU])
	}
	for p := 0; p < m.P; p++ {
		out[m.layout.HyperMu[p]] = free[m.ofMu+p]
		out[m.layout.HyperTau[p]] = math.Exp(free[m.ofLogTau+p])
	}
	out[m.layout.AssocA] = free[m.ofA]
	if m.bimodal {
		out[m.layout.AssocB0] = free[m.ofB]
		out[m.layout.AssocB1] = free[m.ofB+1]
	} else {
		out[m.layout.AssocB] = free[m.ofB]
	}
	out[m.layout.SigmaV] = math.Exp(free[m.ofLogSigV])
	return out
}
