package posterior

import (
	"math"
)

// ParamDiagnostic carries convergence diagnostics for one parameter
type ParamDiagnostic struct {
	Name string  `json:"name"`
	RHat float64 `json:"rhat"`
	ESS  float64 `json:"ess"`
}

// Diagnose computes split-chain R-hat and effective sample size for every
// parameter across the given chains
func Diagnose(chains []*ChainDraws) []ParamDiagnostic {
	if len(chains) == 0 || chains[0].Len() == 0 {
		return nil
	}
	names := chains[0].Names
	out := make([]ParamDiagnostic, len(names))
	for j, name := range names {
		series := make([][]float64, len(chains))
		for i, c := range chains {
			series[i] = c.Series(j)
		}
		out[j] = ParamDiagnostic{
			Name: name,
			RHat: SplitRHat(series),
			ESS:  EffectiveSampleSize(series),
		}
	}
	return out
}

// SplitRHat computes the Gelman-Rubin potential scale reduction factor over
// chains split in half, so a single drifting chain is caught too. Returns 1
// for constant series.
func SplitRHat(chains [][]float64) float64 {
	halves := splitHalves(chains)
	m := len(halves)
	if m < 2 {
		return 1
	}
	n := len(halves[0])
	if n < 2 {
		return 1
	}

	means := make([]float64, m)
	vars := make([]float64, m)
	grand := 0.0
	for i, h := range halves {
		mu := meanOf(h)
		means[i] = mu
		vars[i] = varianceOf(h, mu)
		grand += mu
	}
	grand /= float64(m)

	b := 0.0
	for _, mu := range means {
		d := mu - grand
		b += d * d
	}
	b *= float64(n) / float64(m-1)

	w := meanOf(vars)
	if w <= 0 {
		return 1
	}

	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	return math.Sqrt(varPlus / w)
}

// EffectiveSampleSize estimates the number of independent draws across
// chains, discounting autocorrelation. Lag sums are truncated at the first
// negative autocorrelation pair.
func EffectiveSampleSize(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 {
		return 0
	}
	n := len(chains[0])
	if n < 4 {
		return float64(m * n)
	}

	// Average per-chain autocorrelations at each lag.
	maxLag := n / 2
	rho := make([]float64, maxLag)
	valid := false
	for _, c := range chains {
		mu := meanOf(c)
		v := varianceOf(c, mu)
		if v <= 0 {
			continue
		}
		valid = true
		for lag := 1; lag < maxLag; lag++ {
			acf := 0.0
			for i := 0; i+lag < n; i++ {
				acf += (c[i] - mu) * (c[i+lag] - mu)
			}
			acf /= float64(n-1) * v
			rho[lag] += acf / float64(m)
		}
	}
	if !valid {
		return float64(m * n)
	}

	// Initial positive sequence: stop when a lag pair turns negative.
	tau := 1.0
	for lag := 1; lag+1 < maxLag; lag += 2 {
		pair := rho[lag] + rho[lag+1]
		if pair < 0 {
			break
		}
		tau += 2 * pair
	}

	ess := float64(m*n) / tau
	if ess > float64(m*n) {
		ess = float64(m * n)
	}
	if ess < 1 {
		ess = 1
	}
	return ess
}

func splitHalves(chains [][]float64) [][]float64 {
	var halves [][]float64
	for _, c := range chains {
		h := len(c) / 2
		if h < 1 {
			continue
		}
		halves = append(halves, c[:h], c[h:h*2])
	}
	return halves
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func varianceOf(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		d := x - mu
		s += d * d
	}
	return s / float64(len(xs)-1)
}
