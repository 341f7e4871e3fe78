package sampler

import (
	"math"
	"math/rand"

	"gocomp/domain/fit"
	"gocomp/domain/posterior"
)

// Warmup adaptation tuning. Proposal scales chase the random-walk optimum
// and freeze once warmup ends.
const (
	adaptWindow  = 25
	targetAccept = 0.44
	minScale     = 1e-4
	maxScale     = 5.0
	initScale    = 0.05
)

// block is one contiguous slice of the free vector proposed jointly
type block struct {
	lo, hi int
}

type chainResult struct {
	draws      *posterior.ChainDraws
	logLik     [][]float64
	acceptRate float64
}

type chainState struct {
	free   []float64
	prop   []float64
	z      []int
	blocks []block
	scales []float64
}

// runChain executes one full adaptive Metropolis chain. It owns its RNG
// stream, never observes other chains, and runs to completion once started;
// cancellation happens between chains, not here.
func runChain(m *modelData, cfg fit.Config, rng *rand.Rand) *chainResult {
	c := &chainState{
		free: make([]float64, m.freeSize),
		prop: make([]float64, m.freeSize),
		z:    make([]int, m.G),
	}
	c.buildBlocks(m)
	c.scales = make([]float64, len(c.blocks))
	for i := range c.scales {
		c.scales[i] = initScale
	}

	lp := math.Inf(-1)
	for attempt := 0; attempt < 20 && math.IsInf(lp, -1); attempt++ {
		c.initState(m, rng, 1+float64(attempt)*0.5)
		lp = m.logPosterior(c.free, c.z)
	}

	total := cfg.Warmup + cfg.Samples*cfg.Thin
	draws := posterior.NewChainDraws(m.layout.Names, cfg.Samples)
	var logLik [][]float64
	if cfg.EnableLOO {
		logLik = make([][]float64, 0, cfg.Samples)
	}

	winAcc := make([]int, len(c.blocks))
	winAtt := make([]int, len(c.blocks))
	var accepts, attempts int

	for iter := 0; iter < total; iter++ {
		warming := iter < cfg.Warmup

		for bi, b := range c.blocks {
			copy(c.prop, c.free)
			for i := b.lo; i < b.hi; i++ {
				c.prop[i] = c.free[i] + c.scales[bi]*rng.NormFloat64()
			}
			lpNew := m.logPosterior(c.prop, c.z)

			accepted := false
			if lpNew > lp || math.Log(rng.Float64()) < lpNew-lp {
				copy(c.free[b.lo:b.hi], c.prop[b.lo:b.hi])
				lp = lpNew
				accepted = true
			}

			if warming {
				winAtt[bi]++
				if accepted {
					winAcc[bi]++
				}
				if winAtt[bi] == adaptWindow {
					c.adapt(bi, winAcc[bi])
					winAcc[bi], winAtt[bi] = 0, 0
				}
			} else {
				attempts++
				if accepted {
					accepts++
				}
			}
		}

		if m.bimodal {
			c.gibbsRegimes(m, rng)
			lp = m.logPosterior(c.free, c.z)
		}

		if !warming && (iter-cfg.Warmup)%cfg.Thin == cfg.Thin-1 {
			draws.Append(m.monitored(c.free, c.z))
			if cfg.EnableLOO {
				logLik = append(logLik, m.pointwiseLogLik(c.free))
			}
		}
	}

	rate := 0.0
	if attempts > 0 {
		rate = float64(accepts) / float64(attempts)
	}
	return &chainResult{draws: draws, logLik: logLik, acceptRate: rate}
}

func (c *chainState) buildBlocks(m *modelData) {
	for g := 0; g < m.G-1; g++ {
		c.blocks = append(c.blocks, block{m.ofBeta + g*m.P, m.ofBeta + (g+1)*m.P})
	}
	for g := 0; g < m.G; g++ {
		c.blocks = append(c.blocks, block{m.ofGamma + g*m.Q, m.ofGamma + (g+1)*m.Q})
	}
	if m.hasRandom {
		w := m.G - 1
		for l := 0; l < m.L; l++ {
			c.blocks = append(c.blocks, block{m.ofU + l*w, m.ofU + (l+1)*w})
		}
	}
	c.blocks = append(c.blocks, block{m.ofMu, m.ofMu + 2*m.P})
	c.blocks = append(c.blocks, block{m.ofA, m.freeSize})
}

// initState seeds the walk near the empirical composition so chains start in
// a region of non-trivial posterior mass, with per-chain jitter for
// overdispersed starts
func (c *chainState) initState(m *modelData, rng *rand.Rand, spread float64) {
	for i := range c.free {
		c.free[i] = 0.1 * spread * rng.NormFloat64()
	}

	// Observed mean log-proportions, centered, as intercept starts when the
	// leading composition column is constant.
	if m.P > 0 && isConstantColumn(m, 0) {
		logp := make([]float64, m.G)
		meanLog := 0.0
		for g := 0; g < m.G; g++ {
			pbar := 0.0
			for s := 0; s < m.S; s++ {
				pbar += float64(m.table.Counts[s][g]) / float64(m.table.Totals[s])
			}
			pbar /= float64(m.S)
			if pbar < 1e-6 {
				pbar = 1e-6
			}
			logp[g] = math.Log(pbar)
			meanLog += logp[g]
		}
		meanLog /= float64(m.G)
		for g := 0; g < m.G-1; g++ {
			c.free[m.ofBeta+g*m.P] = logp[g] - meanLog + 0.1*spread*rng.NormFloat64()
		}
	}

	// Moderate starting concentration.
	for g := 0; g < m.G; g++ {
		c.free[m.ofGamma+g*m.Q] = 2.0 + 0.1*spread*rng.NormFloat64()
	}
	c.free[m.ofA] = 2.0 + 0.1*spread*rng.NormFloat64()
	if m.bimodal {
		c.free[m.ofB] = mixB0Mean + 0.1*rng.NormFloat64()
		c.free[m.ofB+1] = mixB1Mean + 0.1*rng.NormFloat64()
	} else {
		c.free[m.ofB] = assocBMean + 0.1*rng.NormFloat64()
	}
	c.free[m.ofLogSigV] = 0.1 * rng.NormFloat64()
	if m.hasRandom {
		c.free[m.ofLogSigU] = math.Log(0.5) + 0.1*rng.NormFloat64()
	}
	for g := range c.z {
		c.z[g] = 0
	}
}

func isConstantColumn(m *modelData, col int) bool {
	for s := 0; s < m.S; s++ {
		if m.design.CompositionRow(s)[col] != 1 {
			return false
		}
	}
	return true
}

func (c *chainState) adapt(bi, accepted int) {
	rate := float64(accepted) / float64(adaptWindow)
	c.scales[bi] *= math.Exp(rate - targetAccept)
	if c.scales[bi] < minScale {
		c.scales[bi] = minScale
	}
	if c.scales[bi] > maxScale {
		c.scales[bi] = maxScale
	}
}

// gibbsRegimes resamples each group's mixture indicator from its full
// conditional under the two association regimes
func (c *chainState) gibbsRegimes(m *modelData, rng *rand.Rand) {
	a := c.free[m.ofA]
	b0 := c.free[m.ofB]
	b1 := c.free[m.ofB+1]
	sigV := math.Exp(c.free[m.ofLogSigV])

	for g := 0; g < m.G; g++ {
		beta0 := m.betaAt(c.free, g, 0)
		gamma0 := m.gammaAt(c.free, g, 0)
		l0 := math.Log(1-fit.BimodalPositiveWeight) + normalLogPDF(gamma0, a+b0*beta0, sigV)
		l1 := math.Log(fit.BimodalPositiveWeight) + normalLogPDF(gamma0, a+b1*beta0, sigV)
		p1 := 1 / (1 + math.Exp(l0-l1))
		if rng.Float64() < p1 {
			c.z[g] = 1
		} else {
			c.z[g] = 0
		}
	}
}
