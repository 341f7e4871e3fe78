// Package testkit generates synthetic single-cell cohorts for tests, demos,
// and local runs without real data. Generation is fully seeded so fixtures
// stay byte-stable across runs.
package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/domain/fit"
	"gocomp/internal/randdist"
)

// CohortConfig configures the synthetic cohort generator
type CohortConfig struct {
	// Groups are the cell group names, one column per group.
	Groups []string `json:"groups"`
	// BaseLogits are the control-arm log shares, one per group. They are
	// centered by the softmax so only differences matter.
	BaseLogits []float64 `json:"base_logits"`

	// SamplesPerArm is the number of samples per condition arm.
	SamplesPerArm int `json:"samples_per_arm"`
	// MeanCells is the expected per-sample total cell count.
	MeanCells int64 `json:"mean_cells"`
	// CellsJitter is the log-scale spread of per-sample totals.
	CellsJitter float64 `json:"cells_jitter"`

	// Effects shifts a group's logit share in the treated arm.
	Effects map[string]float64 `json:"effects"`
	// SampleNoise is the per-sample logit noise standing in for biological
	// variability between donors.
	SampleNoise float64 `json:"sample_noise"`

	// Condition is the covariate key carried on every observation.
	Condition    string `json:"condition"`
	ControlLevel string `json:"control_level"`
	TreatedLevel string `json:"treated_level"`

	// Outliers are injected after sampling by scaling single cells.
	Outliers []PlantedOutlier `json:"outliers,omitempty"`

	Seed int64 `json:"seed"`
}

// PlantedOutlier scales one (sample, group) count after generation so
// detection tests know exactly where the aberrant cell sits
type PlantedOutlier struct {
	// SampleIndex addresses the generated sample order: control arm first,
	// then treated.
	SampleIndex int     `json:"sample_index"`
	Group       string  `json:"group"`
	Factor      float64 `json:"factor"`
}

// DefaultCohortConfig returns a three-group cohort with one decisively
// shifted group
func DefaultCohortConfig() CohortConfig {
	return CohortConfig{
		Groups:        []string{"B", "T", "NK"},
		BaseLogits:    []float64{0.6, 0.1, -0.7},
		SamplesPerArm: 4,
		MeanCells:     2000,
		CellsJitter:   0.1,
		Effects:       map[string]float64{"B": 1.0},
		SampleNoise:   0.15,
		Condition:     "type",
		ControlLevel:  "healthy",
		TreatedLevel:  "treated",
		Seed:          42,
	}
}

// CohortGenerator produces observation records from a cohort configuration
type CohortGenerator struct {
	config CohortConfig
	rng    *rand.Rand
}

// NewCohortGenerator creates a generator with its own deterministic stream
func NewCohortGenerator(config CohortConfig) *CohortGenerator {
	return &CohortGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Observations generates the full cohort: control samples first, then
// treated, each a multinomial draw over softmax-transformed logits
func (g *CohortGenerator) Observations() ([]counts.Observation, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	rows := make([][]int64, 0, 2*g.config.SamplesPerArm)
	conditions := make([]string, 0, 2*g.config.SamplesPerArm)
	for arm := 0; arm < 2; arm++ {
		level := g.config.ControlLevel
		treated := arm == 1
		if treated {
			level = g.config.TreatedLevel
		}
		for i := 0; i < g.config.SamplesPerArm; i++ {
			rows = append(rows, g.sampleRow(treated))
			conditions = append(conditions, level)
		}
	}

	for _, o := range g.config.Outliers {
		if err := g.plantOutlier(rows, o); err != nil {
			return nil, err
		}
	}

	var records []counts.Observation
	for s, row := range rows {
		sample := core.SampleID(fmt.Sprintf("s%02d", s+1))
		for gi, group := range g.config.Groups {
			records = append(records, counts.Observation{
				Sample: sample,
				Group:  core.GroupID(group),
				Count:  row[gi],
				Covariates: map[string]counts.Covariate{
					g.config.Condition: counts.Level(conditions[s]),
				},
			})
		}
	}
	return records, nil
}

// Table generates the cohort and normalizes it in one step
func (g *CohortGenerator) Table() (*counts.Table, error) {
	records, err := g.Observations()
	if err != nil {
		return nil, err
	}
	return counts.Normalize(records, counts.DefaultNormalizeOptions())
}

func (g *CohortGenerator) sampleRow(treated bool) []int64 {
	eta := make([]float64, len(g.config.Groups))
	for gi, group := range g.config.Groups {
		eta[gi] = g.config.BaseLogits[gi] + g.rng.NormFloat64()*g.config.SampleNoise
		if treated {
			eta[gi] += g.config.Effects[group]
		}
	}

	total := g.config.MeanCells
	if g.config.CellsJitter > 0 {
		total = int64(math.Round(float64(total) * math.Exp(g.rng.NormFloat64()*g.config.CellsJitter)))
		if total < 1 {
			total = 1
		}
	}
	return randdist.Multinomial(g.rng, total, fit.Softmax(eta))
}

func (g *CohortGenerator) plantOutlier(rows [][]int64, o PlantedOutlier) error {
	if o.SampleIndex < 0 || o.SampleIndex >= len(rows) {
		return fmt.Errorf("outlier sample index %d outside cohort of %d samples", o.SampleIndex, len(rows))
	}
	gi := -1
	for i, group := range g.config.Groups {
		if group == o.Group {
			gi = i
			break
		}
	}
	if gi < 0 {
		return fmt.Errorf("outlier group %q not in cohort groups %v", o.Group, g.config.Groups)
	}
	if o.Factor <= 0 {
		return fmt.Errorf("outlier factor %g must be positive", o.Factor)
	}
	scaled := int64(math.Round(float64(rows[o.SampleIndex][gi]) * o.Factor))
	if scaled < 0 {
		scaled = 0
	}
	rows[o.SampleIndex][gi] = scaled
	return nil
}

func (g *CohortGenerator) validate() error {
	if len(g.config.Groups) < 2 {
		return fmt.Errorf("cohort needs at least 2 groups, got %d", len(g.config.Groups))
	}
	if len(g.config.BaseLogits) != len(g.config.Groups) {
		return fmt.Errorf("cohort has %d base logits for %d groups", len(g.config.BaseLogits), len(g.config.Groups))
	}
	if g.config.SamplesPerArm < 1 {
		return fmt.Errorf("cohort needs at least 1 sample per arm, got %d", g.config.SamplesPerArm)
	}
	if g.config.MeanCells < 1 {
		return fmt.Errorf("cohort needs a positive mean cell count, got %d", g.config.MeanCells)
	}
	if g.config.Condition == "" || g.config.ControlLevel == "" || g.config.TreatedLevel == "" {
		return fmt.Errorf("cohort condition covariate and both levels must be named")
	}
	if g.config.ControlLevel == g.config.TreatedLevel {
		return fmt.Errorf("cohort arms share the level %q", g.config.ControlLevel)
	}
	for group := range g.config.Effects {
		found := false
		for _, known := range g.config.Groups {
			if known == group {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("effect names unknown group %q", group)
		}
	}
	return nil
}
