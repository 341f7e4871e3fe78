package excel

import (
	"context"
	"fmt"
	"strconv"

	"gocomp/domain/core"
	"gocomp/domain/counts"
	"gocomp/ports"
)

// ColumnMap names the long-format columns carrying a cohort
type ColumnMap struct {
	// Sample and Group are required.
	Sample string `json:"sample"`
	Group  string `json:"group"`

	// Count optionally names the cell-count column; empty means each row is
	// one cell and the produced records normalize in rows mode.
	Count string `json:"count,omitempty"`

	// Factors are covariate columns read as categorical levels.
	Factors []string `json:"factors,omitempty"`
	// Numbers are covariate columns parsed as numeric values.
	Numbers []string `json:"numbers,omitempty"`
}

// DefaultColumnMap matches the long-format export convention
func DefaultColumnMap() ColumnMap {
	return ColumnMap{Sample: "sample", Group: "cell_group", Count: "count"}
}

// ObservationAdapter converts one tabular file into observation records
type ObservationAdapter struct {
	reader  *DataReader
	columns ColumnMap
}

// NewObservationAdapter creates an adapter for one file and column mapping
func NewObservationAdapter(filePath string, columns ColumnMap) *ObservationAdapter {
	return &ObservationAdapter{reader: NewDataReader(filePath), columns: columns}
}

var _ ports.FormatAdapter = (*ObservationAdapter)(nil)

// CountMode reports how the produced records should be normalized
func (a *ObservationAdapter) CountMode() counts.CountMode {
	if a.columns.Count == "" {
		return counts.ModeRows
	}
	return counts.ModeCounts
}

// Observations reads the file and converts every data row into one record.
// Row numbers in errors are file rows, counting the header as row 1.
func (a *ObservationAdapter) Observations(ctx context.Context) ([]counts.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := a.reader.ReadData()
	if err != nil {
		return nil, err
	}
	if err := a.checkHeaders(data.Headers); err != nil {
		return nil, err
	}

	records := make([]counts.Observation, 0, len(data.Rows))
	for i, row := range data.Rows {
		rec, err := a.observation(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (a *ObservationAdapter) checkHeaders(headers []string) error {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	required := []string{a.columns.Sample, a.columns.Group}
	if a.columns.Count != "" {
		required = append(required, a.columns.Count)
	}
	required = append(required, a.columns.Factors...)
	required = append(required, a.columns.Numbers...)

	for _, col := range required {
		if col == "" {
			return fmt.Errorf("column mapping names an empty column")
		}
		if !present[col] {
			return fmt.Errorf("missing column %q in header %v", col, headers)
		}
	}
	return nil
}

func (a *ObservationAdapter) observation(row RowData) (counts.Observation, error) {
	sample := row[a.columns.Sample]
	if sample == "" {
		return counts.Observation{}, fmt.Errorf("empty %s value", a.columns.Sample)
	}
	group := row[a.columns.Group]
	if group == "" {
		return counts.Observation{}, fmt.Errorf("empty %s value", a.columns.Group)
	}

	count := int64(1)
	if a.columns.Count != "" {
		parsed, err := strconv.ParseInt(row[a.columns.Count], 10, 64)
		if err != nil {
			return counts.Observation{}, fmt.Errorf("count %q is not an integer", row[a.columns.Count])
		}
		count = parsed
	}

	covariates := make(map[string]counts.Covariate, len(a.columns.Factors)+len(a.columns.Numbers))
	for _, col := range a.columns.Factors {
		value := row[col]
		if value == "" {
			return counts.Observation{}, fmt.Errorf("empty %s value", col)
		}
		covariates[col] = counts.Level(value)
	}
	for _, col := range a.columns.Numbers {
		value, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return counts.Observation{}, fmt.Errorf("%s value %q is not numeric", col, row[col])
		}
		covariates[col] = counts.Number(value)
	}
	if len(covariates) == 0 {
		covariates = nil
	}

	return counts.Observation{
		Sample:     core.SampleID(sample),
		Group:      core.GroupID(group),
		Count:      count,
		Covariates: covariates,
	}, nil
}
