package fit

import (
	"gocomp/domain/core"
	"gocomp/domain/posterior"
)

// Convergence is the diagnostic report attached to every fitted model
type Convergence struct {
	MaxRHat  float64                     `json:"max_rhat"`
	MinESS   float64                     `json:"min_ess"`
	Degraded bool                        `json:"degraded"`
	Warnings []string                    `json:"warnings,omitempty"`
	Params   []posterior.ParamDiagnostic `json:"params,omitempty"`
}

// Manifest captures audit metadata for one inference run
type Manifest struct {
	RunID      core.RunID      `json:"run_id"`
	ModelID    core.ModelID    `json:"model_id"`
	Seed       int64           `json:"seed"`
	Chains     int             `json:"chains"`
	Warmup     int             `json:"warmup"`
	Samples    int             `json:"samples"`
	Thin       int             `json:"thin"`
	Cores      int             `json:"cores"`
	Bimodal    bool            `json:"bimodal"`
	EnableLOO  bool            `json:"enable_loo"`
	DurationMS int64           `json:"duration_ms"`
	Acceptance []float64       `json:"acceptance"`
	DataHash   core.DataHash   `json:"data_hash"`
	DesignHash core.DesignHash `json:"design_hash"`
	CreatedAt  core.Timestamp  `json:"created_at"`
}

// OutlierFlag is one observation's posterior predictive verdict
type OutlierFlag struct {
	Sample core.SampleID `json:"sample"`
	Group  core.GroupID  `json:"group"`
	// TailProb is the two-sided posterior predictive tail probability of
	// the observed count under the fitted model.
	TailProb float64 `json:"tail_prob"`
	Flagged  bool    `json:"flagged"`
	// Pass records which detection pass produced this verdict.
	Pass int `json:"pass"`
}

// Pass is one step of the outlier fit-flag-refit history
type Pass struct {
	Index        int           `json:"index"`
	Flags        []OutlierFlag `json:"flags"`
	FlaggedCount int           `json:"flagged_count"`
}

// FlaggedSet returns the flagged cells as a lookup set
func (p Pass) FlaggedSet() map[CellKey]bool {
	set := make(map[CellKey]bool)
	for _, f := range p.Flags {
		if f.Flagged {
			set[CellKey{f.Sample, f.Group}] = true
		}
	}
	return set
}

// CellKey addresses one (sample, group) cell
type CellKey struct {
	Sample core.SampleID
	Group  core.GroupID
}

// Effect is one reported effect estimate, recomputed per request
type Effect struct {
	// Label is the c_/v_ prefixed term or contrast, e.g. "c_typecancer".
	Label string       `json:"label"`
	Group core.GroupID `json:"group"`
	// Median is the posterior point estimate on the logit (composition) or
	// log (variability) scale.
	Median float64 `json:"median"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	// TailProb is P(|effect| > threshold).
	TailProb    float64 `json:"tail_prob"`
	Significant bool    `json:"significant"`
	// Degraded carries the model's convergence status into every estimate
	// derived from it.
	Degraded bool `json:"degraded"`
}

// TestResult is the Hypothesis Tester's reply for one request
type TestResult struct {
	Effects   []Effect `json:"effects"`
	Level     float64  `json:"level"`
	Threshold float64  `json:"threshold"`
	Cutoff    float64  `json:"cutoff"`
	// FDR is the expected false discovery rate of the flagged set: the mean
	// of (1 - tail probability) over significant effects.
	FDR      float64  `json:"fdr"`
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// ProportionSummary is the posterior of one cell's expected proportion
type ProportionSummary struct {
	Sample core.SampleID `json:"sample"`
	Group  core.GroupID  `json:"group"`
	Mean   float64       `json:"mean"`
	Median float64       `json:"median"`
	Lower  float64       `json:"lower"`
	Upper  float64       `json:"upper"`
}
