package fit

import (
	"fmt"
	"runtime"
)

// Defaults shared across the engine
const (
	DefaultChains  = 4
	DefaultWarmup  = 400
	DefaultSamples = 400
	DefaultThin    = 1

	// DefaultCredibleLevel is the equal-tailed interval mass for reporting.
	DefaultCredibleLevel = 0.95
	// DefaultEffectThreshold is the minimal logit-scale effect size tested
	// against.
	DefaultEffectThreshold = 0.2
	// DefaultSignificanceCutoff is the posterior probability above which an
	// effect is flagged significant.
	DefaultSignificanceCutoff = 0.95
	// DefaultOutlierTail is the posterior predictive tail probability below
	// which an observation is flagged.
	DefaultOutlierTail = 0.01
	// DefaultMaxPasses bounds the outlier fit-flag-refit loop.
	DefaultMaxPasses = 3

	// RHatDegraded marks a fit degraded but still usable.
	RHatDegraded = 1.05
	// RHatHard fails the fit with a convergence error.
	RHatHard = 1.2

	// BimodalPositiveWeight is the prior mass on the positive regime of the
	// two-component mean-variability association mixture. Shared by the
	// fitter's prior and the simulator's hyper-level generative process.
	BimodalPositiveWeight = 0.25
)

// Config controls one inference run
type Config struct {
	// Chains is the number of independent posterior sampling chains.
	Chains int
	// Warmup iterations adapt proposals and are discarded.
	Warmup int
	// Samples is the number of retained draws per chain after thinning.
	Samples int
	// Thin keeps every Thin-th post-warmup draw.
	Thin int
	// Seed makes the run reproducible; 0 asks the RNG port to pick one.
	Seed int64
	// Cores bounds how many chains run concurrently.
	Cores int

	// BimodalMeanVariability enables the two-component mixture prior on the
	// mean-variability association slope.
	BimodalMeanVariability bool
	// EnableLOO retains the per-observation pointwise log-likelihood for
	// model comparison collaborators.
	EnableLOO bool
}

// WithDefaults fills unset fields
func (c Config) WithDefaults() Config {
	if c.Chains <= 0 {
		c.Chains = DefaultChains
	}
	if c.Warmup <= 0 {
		c.Warmup = DefaultWarmup
	}
	if c.Samples <= 0 {
		c.Samples = DefaultSamples
	}
	if c.Thin <= 0 {
		c.Thin = DefaultThin
	}
	if c.Cores <= 0 {
		c.Cores = runtime.NumCPU()
	}
	if c.Cores > c.Chains {
		c.Cores = c.Chains
	}
	return c
}

// Validate rejects configurations the sampler cannot honor
func (c Config) Validate() error {
	if c.Chains < 1 {
		return fmt.Errorf("chains must be positive, got %d", c.Chains)
	}
	if c.Samples < 10 {
		return fmt.Errorf("samples per chain must be at least 10, got %d", c.Samples)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("warmup must be non-negative, got %d", c.Warmup)
	}
	if c.Thin < 1 {
		return fmt.Errorf("thin must be at least 1, got %d", c.Thin)
	}
	return nil
}
