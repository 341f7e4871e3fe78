package excel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gocomp/domain/counts"

	"github.com/xuri/excelize/v2"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cohort.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestObservationAdapterReadsCSV(t *testing.T) {
	path := writeCSV(t, `sample,cell_group,count,type,age
s1,B,500,healthy,40
s1,T,300,healthy,40
s2,B,800,cancer,61
s2,T,250,cancer,61
`)

	adapter := NewObservationAdapter(path, ColumnMap{
		Sample:  "sample",
		Group:   "cell_group",
		Count:   "count",
		Factors: []string{"type"},
		Numbers: []string{"age"},
	})

	if got := adapter.CountMode(); got != counts.ModeCounts {
		t.Errorf("count mode %s, want %s", got, counts.ModeCounts)
	}

	records, err := adapter.Observations(context.Background())
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}

	first := records[0]
	if first.Sample != "s1" || first.Group != "B" || first.Count != 500 {
		t.Errorf("first record %+v", first)
	}
	if cov := first.Covariates["type"]; cov.Kind != counts.KindCategorical || cov.Level != "healthy" {
		t.Errorf("type covariate %+v", cov)
	}
	if cov := first.Covariates["age"]; cov.Kind != counts.KindNumeric || cov.Value != 40 {
		t.Errorf("age covariate %+v", cov)
	}

	table, err := counts.Normalize(records, counts.NormalizeOptions{Mode: adapter.CountMode()})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if table.Count("s2", "B") != 800 {
		t.Errorf("table count %d, want 800", table.Count("s2", "B"))
	}
}

func TestObservationAdapterRowsMode(t *testing.T) {
	path := writeCSV(t, `barcode,sample,cell_group,type
AAAC,s1,B,healthy
AAAG,s1,B,healthy
AAAT,s1,T,healthy
CCCA,s2,B,cancer
`)

	adapter := NewObservationAdapter(path, ColumnMap{
		Sample:  "sample",
		Group:   "cell_group",
		Factors: []string{"type"},
	})

	if got := adapter.CountMode(); got != counts.ModeRows {
		t.Errorf("count mode %s, want %s", got, counts.ModeRows)
	}

	records, err := adapter.Observations(context.Background())
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want one per cell row", len(records))
	}

	table, err := counts.Normalize(records, counts.NormalizeOptions{Mode: adapter.CountMode()})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := table.Count("s1", "B"); got != 2 {
		t.Errorf("accumulated count %d, want 2", got)
	}
	if got := table.Count("s1", "T"); got != 1 {
		t.Errorf("accumulated count %d, want 1", got)
	}
}

func TestObservationAdapterReadsExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cohort.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"sample", "cell_group", "count", "type"},
		{"s1", "B", 500, "healthy"},
		{"s1", "T", 300, "healthy"},
		{"s2", "B", 820, "cancer"},
		{"s2", "T", 240, "cancer"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close xlsx: %v", err)
	}

	adapter := NewObservationAdapter(path, ColumnMap{
		Sample:  "sample",
		Group:   "cell_group",
		Count:   "count",
		Factors: []string{"type"},
	})
	records, err := adapter.Observations(context.Background())
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	if records[2].Sample != "s2" || records[2].Count != 820 {
		t.Errorf("third record %+v", records[2])
	}
	if cov := records[2].Covariates["type"]; cov.Level != "cancer" {
		t.Errorf("type covariate %+v", cov)
	}
}

func TestObservationAdapterRejectsBadFiles(t *testing.T) {
	valid := `sample,cell_group,count
s1,B,500
s1,T,300
`

	cases := []struct {
		name    string
		content string
		columns ColumnMap
	}{
		{
			name:    "missing mapped column",
			content: valid,
			columns: ColumnMap{Sample: "sample", Group: "cell_group", Count: "n_cells"},
		},
		{
			name:    "empty column name in mapping",
			content: valid,
			columns: ColumnMap{Sample: "sample", Group: ""},
		},
		{
			name: "count not an integer",
			content: `sample,cell_group,count
s1,B,many
`,
			columns: DefaultColumnMap(),
		},
		{
			name: "empty sample cell",
			content: `sample,cell_group,count
,B,500
`,
			columns: DefaultColumnMap(),
		},
		{
			name: "numeric covariate not numeric",
			content: `sample,cell_group,count,age
s1,B,500,old
`,
			columns: ColumnMap{Sample: "sample", Group: "cell_group", Count: "count", Numbers: []string{"age"}},
		},
		{
			name:    "header only",
			content: "sample,cell_group,count\n",
			columns: DefaultColumnMap(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeCSV(t, tc.content)
			_, err := NewObservationAdapter(path, tc.columns).Observations(context.Background())
			if err == nil {
				t.Error("bad file accepted")
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		adapter := NewObservationAdapter(filepath.Join(t.TempDir(), "absent.csv"), DefaultColumnMap())
		if _, err := adapter.Observations(context.Background()); err == nil {
			t.Error("missing file accepted")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		path := writeCSV(t, valid)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewObservationAdapter(path, DefaultColumnMap()).Observations(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error %v, want context.Canceled", err)
		}
	})
}
