// Package randdist provides sampling primitives over *rand.Rand streams so
// every draw stays on the chain-owned generator handed out by the RNG port.
package randdist

import (
	"math"
	"math/rand"
)

// Gamma draws from Gamma(shape, 1) using Marsaglia-Tsang squeeze sampling.
// Shapes below one are boosted and corrected with a uniform power.
func Gamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return Gamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Beta draws from Beta(a, b) via two gamma variates
func Beta(rng *rand.Rand, a, b float64) float64 {
	for {
		x := Gamma(rng, a)
		y := Gamma(rng, b)
		if x+y > 0 {
			return x / (x + y)
		}
	}
}

// Dirichlet draws a point on the simplex with the given concentrations
func Dirichlet(rng *rand.Rand, alpha []float64) []float64 {
	out := make([]float64, len(alpha))
	sum := 0.0
	for i, a := range alpha {
		g := Gamma(rng, a)
		out[i] = g
		sum += g
	}
	if sum == 0 {
		// All shapes collapsed; fall back to uniform.
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// splitLimit keeps q^n representable inside the inversion loop
const splitLimit = 500

// Binomial draws from Binomial(n, p). Large n is split into bounded pieces
// and p above one half is mirrored, so CDF inversion never underflows.
func Binomial(rng *rand.Rand, n int64, p float64) int64 {
	if n <= 0 || p <= 0 {
		return 0
	}
	if p >= 1 {
		return n
	}
	if p > 0.5 {
		return n - Binomial(rng, n, 1-p)
	}
	var total int64
	for n > splitLimit {
		total += binomialInversion(rng, splitLimit, p)
		n -= splitLimit
	}
	return total + binomialInversion(rng, n, p)
}

// binomialInversion walks the CDF with the pmf recurrence. Requires
// n <= splitLimit and p <= 0.5.
func binomialInversion(rng *rand.Rand, n int64, p float64) int64 {
	q := 1 - p
	s := p / q
	f := math.Exp(float64(n) * math.Log(q))
	u := rng.Float64()
	var k int64
	cdf := f
	for u > cdf && k < n {
		k++
		f *= s * float64(n-k+1) / float64(k)
		cdf += f
	}
	return k
}

// BetaBinomial draws a count from BetaBinomial(n, a, b)
func BetaBinomial(rng *rand.Rand, n int64, a, b float64) int64 {
	return Binomial(rng, n, Beta(rng, a, b))
}

// Multinomial draws counts summing exactly to n via sequential conditional
// binomials over the probability vector
func Multinomial(rng *rand.Rand, n int64, probs []float64) []int64 {
	out := make([]int64, len(probs))
	remaining := n
	rest := 0.0
	for _, p := range probs {
		rest += p
	}
	for i, p := range probs {
		if remaining <= 0 {
			break
		}
		if i == len(probs)-1 {
			out[i] = remaining
			break
		}
		cond := 0.0
		if rest > 0 {
			cond = p / rest
		}
		c := Binomial(rng, remaining, cond)
		out[i] = c
		remaining -= c
		rest -= p
	}
	return out
}

// HalfNormal draws |X| for X ~ Normal(0, scale)
func HalfNormal(rng *rand.Rand, scale float64) float64 {
	return math.Abs(rng.NormFloat64()) * scale
}
