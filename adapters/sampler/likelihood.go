package sampler

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// betaBinomialLogPMF evaluates log P(K = k) for K ~ BetaBinomial(n, a, b),
// the sum-conditioned compositional likelihood of one cell. Invalid shapes
// reject the proposal by returning -Inf.
func betaBinomialLogPMF(k, n int64, a, b float64) float64 {
	if k < 0 || k > n || n < 0 {
		return math.Inf(-1)
	}
	if a <= 0 || b <= 0 || math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return math.Inf(-1)
	}
	return lchoose(n, k) + lbeta(float64(k)+a, float64(n-k)+b) - lbeta(a, b)
}

func lbeta(x, y float64) float64 {
	lx, _ := math.Lgamma(x)
	ly, _ := math.Lgamma(y)
	lxy, _ := math.Lgamma(x + y)
	return lx + ly - lxy
}

func lchoose(n, k int64) float64 {
	ln1, _ := math.Lgamma(float64(n + 1))
	lk1, _ := math.Lgamma(float64(k + 1))
	lnk1, _ := math.Lgamma(float64(n - k + 1))
	return ln1 - lk1 - lnk1
}

func normalLogPDF(x, mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma}.LogProb(x)
}

// halfNormalLogPDF is the density of |X| for X ~ Normal(0, scale)
func halfNormalLogPDF(x, scale float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return math.Ln2 + normalLogPDF(x, 0, scale)
}
