package fit

import (
	"math"
	"testing"

	"gocomp/domain/core"
)

// TestLayoutCoversAllParameters verifies every block gets a unique position
func TestLayoutCoversAllParameters(t *testing.T) {
	layout := NewLayout(LayoutSpec{
		Groups:       []core.GroupID{"B", "T", "NK"},
		CompColumns:  []string{"(Intercept)", "typecancer"},
		VarColumns:   []string{"(Intercept)"},
		RandomLevels: []string{"d1", "d2"},
		Bimodal:      false,
	})

	// beta 3x2 + gamma 3x1 + u 2x3 + sigma_u + hyper 2x2 + assoc_a + assoc_b + sigma_v
	want := 6 + 3 + 6 + 1 + 4 + 1 + 1 + 1
	if layout.Size() != want {
		t.Fatalf("layout size = %d, want %d", layout.Size(), want)
	}

	seen := make(map[string]bool, layout.Size())
	for _, n := range layout.Names {
		if seen[n] {
			t.Errorf("duplicate parameter name %s", n)
		}
		seen[n] = true
	}

	used := make(map[int]bool, layout.Size())
	mark := func(idx int) {
		if idx < 0 || idx >= layout.Size() {
			t.Fatalf("index %d out of range", idx)
		}
		if used[idx] {
			t.Errorf("index %d assigned twice", idx)
		}
		used[idx] = true
	}
	for _, row := range layout.Beta {
		for _, idx := range row {
			mark(idx)
		}
	}
	for _, row := range layout.Gamma {
		for _, idx := range row {
			mark(idx)
		}
	}
	for _, row := range layout.U {
		for _, idx := range row {
			mark(idx)
		}
	}
	for _, idx := range layout.HyperMu {
		mark(idx)
	}
	for _, idx := range layout.HyperTau {
		mark(idx)
	}
	mark(layout.SigmaU)
	mark(layout.AssocA)
	mark(layout.AssocB)
	mark(layout.SigmaV)

	if len(used) != layout.Size() {
		t.Errorf("covered %d of %d positions", len(used), layout.Size())
	}
	if layout.AssocB0 != -1 || layout.AssocB1 != -1 {
		t.Error("mixture slots should be absent in single-regime layout")
	}
	if !layout.HasRandom() {
		t.Error("layout with random levels should report HasRandom")
	}
}

// TestLayoutBimodal verifies the mixture layout swaps the association slope
// for two regime slopes
func TestLayoutBimodal(t *testing.T) {
	layout := NewLayout(LayoutSpec{
		Groups:      []core.GroupID{"B", "T"},
		CompColumns: []string{"(Intercept)"},
		VarColumns:  []string{"(Intercept)"},
		Bimodal:     true,
	})

	if layout.AssocB != -1 {
		t.Error("single slope should be absent under the mixture prior")
	}
	if layout.AssocB0 < 0 || layout.AssocB1 < 0 {
		t.Error("mixture slopes missing")
	}
	if layout.SigmaU != -1 {
		t.Error("sigma_u should be absent without random levels")
	}
	if layout.HasRandom() {
		t.Error("layout without random levels should not report HasRandom")
	}
}

// TestSoftmaxSimplex verifies softmax output is a proper composition
func TestSoftmaxSimplex(t *testing.T) {
	eta := []float64{0.5, -1.2, 2.0}
	mu := Softmax(eta)

	sum := 0.0
	for _, p := range mu {
		if p <= 0 || p >= 1 {
			t.Errorf("proportion %g outside (0, 1)", p)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("softmax sums to %g", sum)
	}

	// Shift invariance
	shifted := Softmax([]float64{eta[0] + 10, eta[1] + 10, eta[2] + 10})
	for i := range mu {
		if math.Abs(mu[i]-shifted[i]) > 1e-12 {
			t.Errorf("softmax not shift invariant at %d: %g vs %g", i, mu[i], shifted[i])
		}
	}

	// Extreme logits stay finite
	extreme := Softmax([]float64{800, -800, 0})
	for i, p := range extreme {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Errorf("extreme softmax produced %g at %d", p, i)
		}
	}
}

// TestConfigDefaults verifies unset fields are filled and cores capped
func TestConfigDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.Chains != DefaultChains || c.Warmup != DefaultWarmup || c.Samples != DefaultSamples {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.Cores < 1 || c.Cores > c.Chains {
		t.Errorf("cores = %d outside [1, %d]", c.Cores, c.Chains)
	}

	c2 := Config{Chains: 2, Cores: 16}.WithDefaults()
	if c2.Cores != 2 {
		t.Errorf("cores should cap at chain count, got %d", c2.Cores)
	}
}

// TestConfigValidate covers rejected configurations
func TestConfigValidate(t *testing.T) {
	good := Config{}.WithDefaults()
	if err := good.Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}

	bad := []Config{
		{Chains: 0, Samples: 100, Thin: 1},
		{Chains: 2, Samples: 5, Thin: 1},
		{Chains: 2, Samples: 100, Warmup: -1, Thin: 1},
		{Chains: 2, Samples: 100, Thin: 0},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("config %d should be rejected: %+v", i, c)
		}
	}
}

// TestPassFlaggedSet verifies only flagged cells enter the set
func TestPassFlaggedSet(t *testing.T) {
	p := Pass{
		Index: 1,
		Flags: []OutlierFlag{
			{Sample: "s1", Group: "B", Flagged: true, TailProb: 0.001},
			{Sample: "s1", Group: "T", Flagged: false, TailProb: 0.4},
			{Sample: "s2", Group: "B", Flagged: true, TailProb: 0.005},
		},
	}

	set := p.FlaggedSet()
	if len(set) != 2 {
		t.Fatalf("flagged set size = %d, want 2", len(set))
	}
	if !set[CellKey{"s1", "B"}] || !set[CellKey{"s2", "B"}] {
		t.Errorf("flagged set contents wrong: %v", set)
	}
	if set[CellKey{"s1", "T"}] {
		t.Error("unflagged cell leaked into set")
	}
}
