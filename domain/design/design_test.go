package design

import (
	"testing"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/formula"
)

func fourSampleTable(t *testing.T) *counts.Table {
	t.Helper()
	records := []counts.Observation{
		{Sample: "s1", Group: "B", Count: 40, Covariates: map[string]counts.Covariate{
			"type": counts.Level("healthy"), "dose": counts.Number(0.5), "donor": counts.Level("d1")}},
		{Sample: "s1", Group: "T", Count: 60, Covariates: map[string]counts.Covariate{
			"type": counts.Level("healthy"), "dose": counts.Number(0.5), "donor": counts.Level("d1")}},
		{Sample: "s2", Group: "B", Count: 30, Covariates: map[string]counts.Covariate{
			"type": counts.Level("healthy"), "dose": counts.Number(1.0), "donor": counts.Level("d2")}},
		{Sample: "s2", Group: "T", Count: 70, Covariates: map[string]counts.Covariate{
			"type": counts.Level("healthy"), "dose": counts.Number(1.0), "donor": counts.Level("d2")}},
		{Sample: "s3", Group: "B", Count: 10, Covariates: map[string]counts.Covariate{
			"type": counts.Level("cancer"), "dose": counts.Number(1.5), "donor": counts.Level("d1")}},
		{Sample: "s3", Group: "T", Count: 90, Covariates: map[string]counts.Covariate{
			"type": counts.Level("cancer"), "dose": counts.Number(1.5), "donor": counts.Level("d1")}},
		{Sample: "s4", Group: "B", Count: 15, Covariates: map[string]counts.Covariate{
			"type": counts.Level("cancer"), "dose": counts.Number(2.0), "donor": counts.Level("d2")}},
		{Sample: "s4", Group: "T", Count: 85, Covariates: map[string]counts.Covariate{
			"type": counts.Level("cancer"), "dose": counts.Number(2.0), "donor": counts.Level("d2")}},
	}
	table, err := counts.Normalize(records, counts.DefaultNormalizeOptions())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return table
}

func mustSpec(t *testing.T, comp, vari string) *formula.Spec {
	t.Helper()
	spec, err := formula.ParseSpec(comp, vari)
	if err != nil {
		t.Fatalf("ParseSpec(%q, %q): %v", comp, vari, err)
	}
	return spec
}

// TestBuildInterceptFactor verifies the levels-minus-one-plus-one column law
// and reference-level handling under an intercept
func TestBuildInterceptFactor(t *testing.T) {
	table := fourSampleTable(t)
	m, err := Build(mustSpec(t, "~ type", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// 2 levels with intercept: (2-1)+1 = 2 columns
	if m.P() != 2 {
		t.Fatalf("expected 2 composition columns, got %d: %v", m.P(), m.CompositionSchema.Labels())
	}
	if m.CompositionSchema.Columns[0].Label != "(Intercept)" {
		t.Errorf("first column = %q, want (Intercept)", m.CompositionSchema.Columns[0].Label)
	}
	if m.CompositionSchema.Columns[1].Label != "typecancer" {
		t.Errorf("second column = %q, want typecancer", m.CompositionSchema.Columns[1].Label)
	}

	// healthy appears first, so it is the reference: s1 row is [1, 0]
	row := m.CompositionRow(0)
	if row[0] != 1 || row[1] != 0 {
		t.Errorf("reference sample row = %v, want [1 0]", row)
	}
	// s3 is cancer: [1, 1]
	row = m.CompositionRow(2)
	if row[0] != 1 || row[1] != 1 {
		t.Errorf("cancer sample row = %v, want [1 1]", row)
	}
}

// TestBuildNoInterceptFactor verifies one column per level without intercept
func TestBuildNoInterceptFactor(t *testing.T) {
	table := fourSampleTable(t)
	m, err := Build(mustSpec(t, "~ 0 + type", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// 2 levels, no intercept: 2 columns, one per level
	if m.P() != 2 {
		t.Fatalf("expected 2 columns, got %d", m.P())
	}
	labels := m.CompositionSchema.Labels()
	if labels[0] != "typehealthy" || labels[1] != "typecancer" {
		t.Errorf("labels = %v, want [typehealthy typecancer]", labels)
	}

	// Each sample row must have exactly one 1
	for s := 0; s < table.SampleCount(); s++ {
		row := m.CompositionRow(s)
		sum := row[0] + row[1]
		if sum != 1 {
			t.Errorf("sample %d: dummy row %v does not sum to 1", s, row)
		}
	}
}

// TestBuildNumericCovariate verifies raw values pass through unscaled
func TestBuildNumericCovariate(t *testing.T) {
	table := fourSampleTable(t)
	m, err := Build(mustSpec(t, "~ dose", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	idx, ok := m.CompositionSchema.ColumnIndex("dose")
	if !ok {
		t.Fatalf("no dose column in %v", m.CompositionSchema.Labels())
	}
	want := []float64{0.5, 1.0, 1.5, 2.0}
	for s, w := range want {
		if got := m.CompositionRow(s)[idx]; got != w {
			t.Errorf("sample %d dose = %g, want %g", s, got, w)
		}
	}
}

// TestBuildDeclarationOrder verifies column ordering follows the formula
func TestBuildDeclarationOrder(t *testing.T) {
	table := fourSampleTable(t)
	m, err := Build(mustSpec(t, "~ dose + type", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	labels := m.CompositionSchema.Labels()
	want := []string{"(Intercept)", "dose", "typecancer"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, labels[i], want[i])
		}
	}
}

// TestBuildVariabilitySide verifies the variability matrix resolves the
// shared covariates with its own intercept
func TestBuildVariabilitySide(t *testing.T) {
	table := fourSampleTable(t)
	m, err := Build(mustSpec(t, "~ type", "~ type"), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if m.Q() != 2 {
		t.Fatalf("expected 2 variability columns, got %d", m.Q())
	}
	if m.VariabilitySchema.Columns[1].Label != "typecancer" {
		t.Errorf("variability column = %q, want typecancer", m.VariabilitySchema.Columns[1].Label)
	}

	// Intercept-only variability: single column of ones
	m2, err := Build(mustSpec(t, "~ type", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m2.Q() != 1 {
		t.Errorf("intercept-only variability width = %d, want 1", m2.Q())
	}
}

// TestBuildRandomDesign verifies the random-intercept factor layout
func TestBuildRandomDesign(t *testing.T) {
	table := fourSampleTable(t)
	m, err := Build(mustSpec(t, "~ type + (1 | donor)", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if m.Random == nil {
		t.Fatal("expected random design")
	}
	if m.Random.LevelCount() != 2 {
		t.Fatalf("expected 2 donor levels, got %d", m.Random.LevelCount())
	}
	// samples s1..s4 map to donors d1, d2, d1, d2
	want := []int{0, 1, 0, 1}
	for s, w := range want {
		if m.Random.Index[s] != w {
			t.Errorf("sample %d donor index = %d, want %d", s, m.Random.Index[s], w)
		}
	}
}

// TestBuildUnknownCovariate verifies unresolvable references fail as formula
// errors before any inference work
func TestBuildUnknownCovariate(t *testing.T) {
	table := fourSampleTable(t)
	_, err := Build(mustSpec(t, "~ nonexistent", ""), table)
	if err == nil {
		t.Fatal("expected error for unknown covariate")
	}
	if !core.IsFormulaError(err) {
		t.Errorf("expected formula error, got %v", err)
	}
}

// TestBuildSingleLevelFactor verifies a degenerate factor under an intercept
// is rejected
func TestBuildSingleLevelFactor(t *testing.T) {
	records := []counts.Observation{
		{Sample: "s1", Group: "B", Count: 10, Covariates: map[string]counts.Covariate{"type": counts.Level("only")}},
		{Sample: "s2", Group: "B", Count: 20, Covariates: map[string]counts.Covariate{"type": counts.Level("only")}},
	}
	table, err := counts.Normalize(records, counts.DefaultNormalizeOptions())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	_, err = Build(mustSpec(t, "~ type", ""), table)
	if err == nil {
		t.Fatal("expected single-level factor rejection")
	}
	if !core.IsFormulaError(err) {
		t.Errorf("expected formula error, got %v", err)
	}
}

// TestDesignHashStable verifies identical specs and tables fingerprint equally
func TestDesignHashStable(t *testing.T) {
	table := fourSampleTable(t)
	a, err := Build(mustSpec(t, "~ type", "~ type"), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(mustSpec(t, "~ type", "~ type"), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Hash != b.Hash {
		t.Errorf("design hashes differ: %s vs %s", a.Hash, b.Hash)
	}

	c, err := Build(mustSpec(t, "~ dose", ""), table)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Hash == c.Hash {
		t.Error("different designs share a hash")
	}
}
