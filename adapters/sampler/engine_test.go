package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gocomp/adapters/rng"
	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/design"
	"gocomp/domain/fit"
	"gocomp/domain/formula"
	"gocomp/domain/posterior"
	apperrors "gocomp/internal/errors"
	"gocomp/internal/randdist"
	"gocomp/ports"
)

// cohortRecords generates a two-condition cohort over three cell groups:
// perArm healthy samples then perArm treated samples, each with the given
// total cell count. shift inflates the first group's logit share in treated
// samples.
func cohortRecords(seed int64, perArm int, total int64, shift float64) []counts.Observation {
	src := rand.New(rand.NewSource(seed))
	groups := []core.GroupID{"B", "T", "NK"}
	baseLogit := []float64{0.6, 0.1, -0.7}

	var records []counts.Observation
	for i := 0; i < 2*perArm; i++ {
		cond := "healthy"
		eta := append([]float64(nil), baseLogit...)
		if i >= perArm {
			cond = "treated"
			eta[0] += shift
		}
		row := randdist.Multinomial(src, total, fit.Softmax(eta))
		sample := core.SampleID(fmt.Sprintf("s%02d", i))
		for g, id := range groups {
			records = append(records, counts.Observation{
				Sample: sample,
				Group:  id,
				Count:  row[g],
				Covariates: map[string]counts.Covariate{
					"type": counts.Level(cond),
				},
			})
		}
	}
	return records
}

// buildCohort normalizes records and builds design matrices for ~ type
func buildCohort(t *testing.T, records []counts.Observation) (*counts.Table, *design.Matrices) {
	t.Helper()
	table, err := counts.Normalize(records, counts.DefaultNormalizeOptions())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	spec, err := formula.ParseSpec("~ type", "")
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	mats, err := design.Build(spec, table)
	if err != nil {
		t.Fatalf("build design: %v", err)
	}
	return table, mats
}

func quickConfig(seed int64) fit.Config {
	return fit.Config{
		Chains:  2,
		Warmup:  400,
		Samples: 300,
		Thin:    1,
		Seed:    seed,
		Cores:   2,
	}
}

// TestFitRecoversCompositionShift plants a strong increase in the first
// group's share for treated samples and checks the recovered coefficient
func TestFitRecoversCompositionShift(t *testing.T) {
	table, mats := buildCohort(t, cohortRecords(11, 4, 3000, 1.0))
	engine := NewEngine(rng.New())

	model, err := engine.Fit(context.Background(), ports.FitRequest{
		Table:  table,
		Design: mats,
		Config: quickConfig(101),
		RunID:  core.RunID("run-shift"),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	series, err := model.BetaSeries("B", "typetreated")
	if err != nil {
		t.Fatalf("beta series: %v", err)
	}
	sum, err := posterior.Summarize(series, fit.DefaultCredibleLevel)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	t.Logf("typetreated effect on B: median %.3f, 95%% CI [%.3f, %.3f]", sum.Median, sum.Lower, sum.Upper)

	// The centered effect of a +1.0 logit shift on one of three groups is
	// about +0.67 for that group.
	if sum.Median <= 0 {
		t.Errorf("treated effect on B: median %.3f, want positive", sum.Median)
	}
	if sum.Lower <= 0 {
		t.Errorf("treated effect on B: interval [%.3f, %.3f] should exclude zero", sum.Lower, sum.Upper)
	}
	if sum.Median < 0.3 || sum.Median > 1.1 {
		t.Errorf("treated effect on B: median %.3f far from planted 0.67", sum.Median)
	}

	// The untouched groups absorb the complementary shift.
	for _, g := range []core.GroupID{"T", "NK"} {
		other, err := model.BetaSeries(g, "typetreated")
		if err != nil {
			t.Fatalf("beta series %s: %v", g, err)
		}
		osum, err := posterior.Summarize(other, fit.DefaultCredibleLevel)
		if err != nil {
			t.Fatalf("summarize %s: %v", g, err)
		}
		if osum.Median >= 0 {
			t.Errorf("treated effect on %s: median %.3f, want negative", g, osum.Median)
		}
	}
}

// TestFitSeedReproducibility checks two runs with the same seed and run id
// produce identical posteriors
func TestFitSeedReproducibility(t *testing.T) {
	table, mats := buildCohort(t, cohortRecords(7, 3, 1500, 0.8))
	engine := NewEngine(rng.New())
	req := ports.FitRequest{Table: table, Design: mats, Config: quickConfig(42), RunID: core.RunID("run-repro")}

	a, err := engine.Fit(context.Background(), req)
	if err != nil {
		t.Fatalf("first fit: %v", err)
	}
	b, err := engine.Fit(context.Background(), req)
	if err != nil {
		t.Fatalf("second fit: %v", err)
	}

	if a.Draws.Len() != b.Draws.Len() {
		t.Fatalf("draw counts differ: %d vs %d", a.Draws.Len(), b.Draws.Len())
	}
	for i := 0; i < a.Draws.Len(); i += 37 {
		for j := range a.Draws.Values[i] {
			if a.Draws.Values[i][j] != b.Draws.Values[i][j] {
				t.Fatalf("draw %d parameter %s differs: %v vs %v",
					i, a.Draws.Names[j], a.Draws.Values[i][j], b.Draws.Values[i][j])
			}
		}
	}
}

// TestFitChainStreamsDiffer checks chains explore from distinct streams: a
// merged posterior from identical chains would be a seeding bug
func TestFitChainStreamsDiffer(t *testing.T) {
	table, mats := buildCohort(t, cohortRecords(13, 3, 1200, 0.5))
	engine := NewEngine(rng.New())

	model, err := engine.Fit(context.Background(), ports.FitRequest{
		Table: table, Design: mats, Config: quickConfig(5), RunID: core.RunID("run-streams"),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	half := model.Draws.Len() / 2
	same := true
	for j := range model.Draws.Values[0] {
		if model.Draws.Values[0][j] != model.Draws.Values[half][j] {
			same = false
			break
		}
	}
	if same {
		t.Error("first draw of both chains identical across all parameters")
	}
}

// TestFitManifestAndDiagnostics checks the run record carries the sampling
// configuration, per-chain acceptance, and retained pointwise likelihood
func TestFitManifestAndDiagnostics(t *testing.T) {
	table, mats := buildCohort(t, cohortRecords(3, 3, 1200, 0.6))
	engine := NewEngine(rng.New())
	cfg := quickConfig(77)
	cfg.EnableLOO = true

	model, err := engine.Fit(context.Background(), ports.FitRequest{
		Table: table, Design: mats, Config: cfg, RunID: core.RunID("run-manifest"),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	man := model.Manifest
	if man.RunID != "run-manifest" || man.ModelID != model.ID {
		t.Errorf("manifest identity: run %s model %s", man.RunID, man.ModelID)
	}
	if man.Seed != 77 || man.Chains != 2 || man.Warmup != 400 || man.Samples != 300 {
		t.Errorf("manifest config: %+v", man)
	}
	if man.DataHash != table.Fingerprint {
		t.Errorf("manifest data hash %s, table fingerprint %s", man.DataHash, table.Fingerprint)
	}
	if man.DesignHash != mats.Hash {
		t.Errorf("manifest design hash %s, design hash %s", man.DesignHash, mats.Hash)
	}
	if !man.EnableLOO || man.Bimodal {
		t.Errorf("manifest toggles: loo %v bimodal %v", man.EnableLOO, man.Bimodal)
	}

	if len(man.Acceptance) != 2 {
		t.Fatalf("acceptance entries = %d, want 2", len(man.Acceptance))
	}
	for i, rate := range man.Acceptance {
		if rate <= 0.05 || rate >= 0.95 {
			t.Errorf("chain %d acceptance %.2f outside adapted range", i, rate)
		}
	}

	if got := model.Draws.Len(); got != 600 {
		t.Errorf("retained draws = %d, want 600", got)
	}
	if got := len(model.PointwiseLogLik); got != 600 {
		t.Errorf("pointwise rows = %d, want 600", got)
	}
	if got, want := len(model.PointwiseLogLik[0]), table.SampleCount()*table.GroupCount(); got != want {
		t.Errorf("pointwise cells = %d, want %d", got, want)
	}
	for _, row := range model.PointwiseLogLik[:5] {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 1) || v > 0 {
				t.Fatalf("pointwise log-likelihood %v out of range", v)
			}
		}
	}

	if model.Convergence.MaxRHat < 1 {
		t.Errorf("max rhat %.3f below 1", model.Convergence.MaxRHat)
	}
	if model.Convergence.MinESS <= 0 {
		t.Errorf("min ess %.1f not positive", model.Convergence.MinESS)
	}
	if got, want := len(model.Convergence.Params), model.Layout.Size(); got != want {
		t.Errorf("diagnostics for %d parameters, want %d", got, want)
	}
}

// TestFitWithoutLOODropsPointwise checks the pointwise matrix is only
// retained on request
func TestFitWithoutLOODropsPointwise(t *testing.T) {
	table, mats := buildCohort(t, cohortRecords(17, 2, 900, 0.4))
	engine := NewEngine(rng.New())

	model, err := engine.Fit(context.Background(), ports.FitRequest{
		Table: table, Design: mats, Config: quickConfig(19), RunID: core.RunID("run-noloo"),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if model.LogLik() != nil {
		t.Errorf("pointwise log-likelihood retained without enable_loo")
	}
}

// TestFitAbortsBetweenChains checks a canceled context stops the run before
// merging anything
func TestFitAbortsBetweenChains(t *testing.T) {
	table, mats := buildCohort(t, cohortRecords(5, 2, 800, 0.5))
	engine := NewEngine(rng.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model, err := engine.Fit(ctx, ports.FitRequest{Table: table, Design: mats, Config: quickConfig(9)})
	if err == nil {
		t.Fatal("expected abort error, got model")
	}
	if model != nil {
		t.Error("aborted run returned a partial model")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeSamplingAborted {
		t.Errorf("error code = %s, want %s", code, apperrors.CodeSamplingAborted)
	}
}

// TestFitValidatesInput checks the precondition failures surface as typed
// input errors
func TestFitValidatesInput(t *testing.T) {
	engine := NewEngine(rng.New())

	if _, err := engine.Fit(context.Background(), ports.FitRequest{}); err == nil {
		t.Error("nil table accepted")
	}

	records := []counts.Observation{
		{Sample: "s1", Group: "B", Count: 5},
		{Sample: "s2", Group: "B", Count: 7},
	}
	table, err := counts.Normalize(records, counts.DefaultNormalizeOptions())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	spec, err := formula.ParseSpec("~ 1", "")
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	mats, err := design.Build(spec, table)
	if err != nil {
		t.Fatalf("build design: %v", err)
	}

	_, err = engine.Fit(context.Background(), ports.FitRequest{Table: table, Design: mats, Config: quickConfig(1)})
	if err == nil {
		t.Fatal("single-group table accepted")
	}
	if !core.IsMalformedInputError(err) {
		t.Errorf("error = %v, want malformed input", err)
	}

	goodTable, goodMats := buildCohort(t, cohortRecords(23, 2, 500, 0.3))
	bad := quickConfig(1)
	bad.Samples = 3
	if _, err := engine.Fit(context.Background(), ports.FitRequest{Table: goodTable, Design: goodMats, Config: bad}); err == nil {
		t.Error("degenerate sample count accepted")
	}
}
