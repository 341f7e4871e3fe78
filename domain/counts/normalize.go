package counts

import (
	"fmt"

	"gocomp/domain/core"
)

// CountMode selects how record counts are interpreted during normalization
type CountMode string

const (
	// ModeCounts uses each record's Count field; duplicate (sample, group)
	// pairs are malformed input.
	ModeCounts CountMode = "counts"
	// ModeRows treats each record as a single cell (per-cell long format);
	// repeated (sample, group) pairs accumulate.
	ModeRows CountMode = "rows"
)

// NormalizeOptions configures the normalizer
type NormalizeOptions struct {
	Mode CountMode
}

// DefaultNormalizeOptions returns the count-column interpretation
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{Mode: ModeCounts}
}

// Normalize validates raw observation records and reshapes them into the
// canonical dense table. Pure transform: the input slice is never mutated.
//
// Failure modes (all wrapping core.ErrMalformedInput):
//   - no records, or a sample whose groups sum to zero
//   - a negative count
//   - duplicate (sample, group) pairs in ModeCounts
//   - covariate values that vary within a sample
//
// Missing (sample, group) pairs are filled with zero so every sample spans
// the union of all observed groups.
func Normalize(records []Observation, opts NormalizeOptions) (*Table, error) {
	if opts.Mode == "" {
		opts.Mode = ModeCounts
	}
	if len(records) == 0 {
		return nil, core.ErrEmptyCounts
	}

	t := &Table{
		Covariates:  make(map[core.SampleID]map[string]Covariate),
		CreatedAt:   core.Now(),
		sampleIndex: make(map[core.SampleID]int),
		groupIndex:  make(map[core.GroupID]int),
	}

	type cellKey struct {
		sample core.SampleID
		group  core.GroupID
	}
	cells := make(map[cellKey]int64, len(records))

	for i, rec := range records {
		if rec.Sample == "" {
			return nil, core.NewMalformedInputError("sample", fmt.Sprintf("record %d has empty sample id", i))
		}
		if rec.Group == "" {
			return nil, core.NewMalformedInputError("group", fmt.Sprintf("record %d has empty group id", i))
		}

		if _, seen := t.sampleIndex[rec.Sample]; !seen {
			t.sampleIndex[rec.Sample] = len(t.Samples)
			t.Samples = append(t.Samples, rec.Sample)
		}
		if _, seen := t.groupIndex[rec.Group]; !seen {
			t.groupIndex[rec.Group] = len(t.Groups)
			t.Groups = append(t.Groups, rec.Group)
		}

		key := cellKey{rec.Sample, rec.Group}
		switch opts.Mode {
		case ModeRows:
			cells[key]++
		case ModeCounts:
			if rec.Count < 0 {
				return nil, fmt.Errorf("%w: sample %s group %s: %d", core.ErrNegativeCount, rec.Sample, rec.Group, rec.Count)
			}
			if _, dup := cells[key]; dup {
				return nil, core.NewMalformedInputError("records",
					fmt.Sprintf("duplicate (sample, group) pair (%s, %s)", rec.Sample, rec.Group))
			}
			cells[key] = rec.Count
		default:
			return nil, core.NewMalformedInputError("mode", fmt.Sprintf("unknown count mode %q", opts.Mode))
		}

		if err := mergeCovariates(t.Covariates, rec); err != nil {
			return nil, err
		}
	}

	t.Counts = make([][]int64, len(t.Samples))
	t.Totals = make([]int64, len(t.Samples))
	for s, sample := range t.Samples {
		row := make([]int64, len(t.Groups))
		var total int64
		for g, group := range t.Groups {
			c := cells[cellKey{sample, group}]
			row[g] = c
			total += c
		}
		if total == 0 {
			return nil, core.NewMalformedInputError("counts",
				fmt.Sprintf("sample %s has zero total count", sample))
		}
		t.Counts[s] = row
		t.Totals[s] = total
	}

	t.Fingerprint = fingerprint(t)
	return t, nil
}

// mergeCovariates records a sample's covariates, rejecting within-sample conflicts
func mergeCovariates(dst map[core.SampleID]map[string]Covariate, rec Observation) error {
	if len(rec.Covariates) == 0 {
		return nil
	}
	existing, ok := dst[rec.Sample]
	if !ok {
		existing = make(map[string]Covariate, len(rec.Covariates))
		dst[rec.Sample] = existing
	}
	for key, val := range rec.Covariates {
		prev, seen := existing[key]
		if seen && !prev.Equal(val) {
			return core.NewMalformedInputError("covariates",
				fmt.Sprintf("sample %s has conflicting values for %q: %s vs %s", rec.Sample, key, prev, val))
		}
		existing[key] = val
	}
	return nil
}

func fingerprint(t *Table) core.DataHash {
	flat := make(map[string]int, len(t.Samples)*len(t.Groups))
	for s, sample := range t.Samples {
		for g, group := range t.Groups {
			flat[sample.String()+"\x1f"+group.String()] = int(t.Counts[s][g])
		}
	}
	return core.ComputeDataHash(flat)
}
