package sampler

import (
	"math"
	"testing"
)

// TestBetaBinomialLogPMFNormalizes checks the pmf sums to one over its support
func TestBetaBinomialLogPMFNormalizes(t *testing.T) {
	cases := []struct {
		n    int64
		a, b float64
	}{
		{10, 2.0, 3.0},
		{25, 0.5, 0.5},
		{40, 8.0, 1.5},
		{200, 60.0, 140.0},
	}
	for _, c := range cases {
		sum := 0.0
		for k := int64(0); k <= c.n; k++ {
			sum += math.Exp(betaBinomialLogPMF(k, c.n, c.a, c.b))
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("n=%d a=%g b=%g: pmf sums to %.12f, want 1", c.n, c.a, c.b, sum)
		}
	}
}

// TestBetaBinomialLogPMFSymmetry checks that swapping the shape parameters
// mirrors the support
func TestBetaBinomialLogPMFSymmetry(t *testing.T) {
	n := int64(15)
	a, b := 2.5, 7.0
	for k := int64(0); k <= n; k++ {
		left := betaBinomialLogPMF(k, n, a, b)
		right := betaBinomialLogPMF(n-k, n, b, a)
		if math.Abs(left-right) > 1e-10 {
			t.Errorf("k=%d: logpmf %.12f, mirrored %.12f", k, left, right)
		}
	}
}

// TestBetaBinomialLogPMFGuards checks out-of-support counts and invalid
// shapes yield -Inf instead of NaN
func TestBetaBinomialLogPMFGuards(t *testing.T) {
	cases := []struct {
		name string
		k, n int64
		a, b float64
	}{
		{"negative count", -1, 10, 1, 1},
		{"count above total", 11, 10, 1, 1},
		{"zero shape a", 5, 10, 0, 1},
		{"negative shape b", 5, 10, 1, -2},
		{"nan shape", 5, 10, math.NaN(), 1},
		{"infinite shape", 5, 10, math.Inf(1), 1},
	}
	for _, c := range cases {
		if lp := betaBinomialLogPMF(c.k, c.n, c.a, c.b); !math.IsInf(lp, -1) {
			t.Errorf("%s: got %v, want -Inf", c.name, lp)
		}
	}
}

// TestBetaBinomialApproachesBinomial checks that enormous concentration
// collapses the beta-binomial onto the plain binomial
func TestBetaBinomialApproachesBinomial(t *testing.T) {
	n := int64(20)
	mu := 0.3
	phi := 1e8
	for k := int64(0); k <= n; k++ {
		bb := betaBinomialLogPMF(k, n, mu*phi, (1-mu)*phi)
		bin := lchoose(n, k) + float64(k)*math.Log(mu) + float64(n-k)*math.Log(1-mu)
		if math.Abs(bb-bin) > 1e-4 {
			t.Errorf("k=%d: beta-binomial %.6f, binomial limit %.6f", k, bb, bin)
		}
	}
}

// TestBetaBinomialOverdispersionOrdering checks smaller concentration puts
// more mass in the tails for the same mean
func TestBetaBinomialOverdispersionOrdering(t *testing.T) {
	n := int64(100)
	mu := 0.5
	tight := betaBinomialLogPMF(0, n, mu*200, (1-mu)*200)
	loose := betaBinomialLogPMF(0, n, mu*2, (1-mu)*2)
	if loose <= tight {
		t.Errorf("tail mass at 0: loose %.4f should exceed tight %.4f", loose, tight)
	}
}

// TestNormalLogPDF pins the density against the closed form
func TestNormalLogPDF(t *testing.T) {
	cases := []struct{ x, mu, sigma float64 }{
		{0, 0, 1},
		{1.5, 0.5, 2.0},
		{-3, 1, 0.25},
	}
	for _, c := range cases {
		want := -0.5*math.Log(2*math.Pi) - math.Log(c.sigma) - 0.5*math.Pow((c.x-c.mu)/c.sigma, 2)
		got := normalLogPDF(c.x, c.mu, c.sigma)
		if math.Abs(got-want) > 1e-10 {
			t.Errorf("x=%g mu=%g sigma=%g: got %.12f, want %.12f", c.x, c.mu, c.sigma, got, want)
		}
	}
}

// TestHalfNormalLogPDF checks support and the doubled density
func TestHalfNormalLogPDF(t *testing.T) {
	if lp := halfNormalLogPDF(-0.1, 1.0); !math.IsInf(lp, -1) {
		t.Errorf("negative support: got %v, want -Inf", lp)
	}
	want := math.Ln2 - 0.5*math.Log(2*math.Pi)
	if got := halfNormalLogPDF(0, 1.0); math.Abs(got-want) > 1e-12 {
		t.Errorf("x=0: got %.12f, want %.12f", got, want)
	}
	if got, want := halfNormalLogPDF(1.3, 0.7), math.Ln2+normalLogPDF(1.3, 0, 0.7); got != want {
		t.Errorf("x=1.3: got %.12f, want %.12f", got, want)
	}
}

// TestLchooseMatchesPascal spot-checks the log binomial coefficient
func TestLchooseMatchesPascal(t *testing.T) {
	cases := []struct {
		n, k int64
		want float64
	}{
		{5, 0, 1},
		{5, 5, 1},
		{5, 2, 10},
		{10, 3, 120},
		{52, 5, 2598960},
	}
	for _, c := range cases {
		if got := math.Exp(lchoose(c.n, c.k)); math.Abs(got-c.want)/c.want > 1e-9 {
			t.Errorf("C(%d,%d) = %.4f, want %g", c.n, c.k, got, c.want)
		}
	}
}
