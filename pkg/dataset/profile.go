package dataset

import (
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/plotwise/pkg/api"
)

// DefaultSampleRows is the number of leading rows kept in a summary.
const DefaultSampleRows = 5

// Options tunes profiling.
type Options struct {
	// SampleRows bounds the row sample. Zero means DefaultSampleRows.
	SampleRows int

	// MaxCategories is the largest number of distinct values a non-numeric
	// column may have and still be classed categorical regardless of row
	// count. Zero means 50.
	MaxCategories int
}

func (o Options) withDefaults() Options {
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.MaxCategories <= 0 {
		o.MaxCategories = 50
	}
	return o
}

// missingMarkers are cell values treated as absent, matching what common
// dataframe readers treat as NA.
var missingMarkers = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true,
	"none": true, "nil": true, "-": true, "#n/a": true,
}

// IsMissing reports whether a raw cell counts as a missing value.
func IsMissing(cell string) bool {
	return missingMarkers[strings.ToLower(strings.TrimSpace(cell))]
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"2006-01",
}

func parseNumber(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimPrefix(s, "$")
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseDate(cell string) bool {
	s := strings.TrimSpace(cell)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// InferType classifies a column from its raw cells. Missing cells are
// ignored; a column with no present values is text.
func InferType(cells []string, opts Options) (api.ColumnType, int) {
	opts = opts.withDefaults()

	missing := 0
	present := 0
	numeric, dates := true, true
	distinct := make(map[string]struct{})
	for _, c := range cells {
		if IsMissing(c) {
			missing++
			continue
		}
		present++
		if numeric {
			if _, ok := parseNumber(c); !ok {
				numeric = false
			}
		}
		if dates && !parseDate(c) {
			dates = false
		}
		distinct[strings.TrimSpace(c)] = struct{}{}
	}

	switch {
	case present == 0:
		return api.ColumnText, missing
	case numeric:
		return api.ColumnNumeric, missing
	case dates:
		return api.ColumnDatetime, missing
	case len(distinct) <= opts.MaxCategories || len(distinct)*2 <= present:
		return api.ColumnCategorical, missing
	default:
		return api.ColumnText, missing
	}
}

// Profile summarizes a table: ordered columns with inferred types and
// missing counts, the row count and a bounded sample of leading rows.
// Numeric cells in the sample are float64 (int64 when integral); missing
// cells are nil.
func Profile(t *Table, opts Options) api.DatasetSummary {
	opts = opts.withDefaults()

	summary := api.DatasetSummary{
		Columns:  make([]api.Column, len(t.Header)),
		RowCount: len(t.Rows),
	}
	for i, name := range t.Header {
		typ, missing := InferType(t.Column(i), opts)
		summary.Columns[i] = api.Column{Name: name, Type: typ, Missing: missing}
	}

	n := min(opts.SampleRows, len(t.Rows))
	summary.Sample = make([]map[string]any, n)
	for r := 0; r < n; r++ {
		rec := make(map[string]any, len(t.Header))
		for i, col := range summary.Columns {
			rec[col.Name] = sampleValue(t.Rows[r][i], col.Type)
		}
		summary.Sample[r] = rec
	}
	return summary
}

func sampleValue(cell string, typ api.ColumnType) any {
	if IsMissing(cell) {
		return nil
	}
	if typ == api.ColumnNumeric {
		if f, ok := parseNumber(cell); ok {
			if f == float64(int64(f)) && !strings.ContainsAny(cell, ".eE") {
				return int64(f)
			}
			return f
		}
	}
	return strings.TrimSpace(cell)
}

// ProfileFile reads and profiles a file in one call.
func ProfileFile(path string, opts Options) (*Table, api.DatasetSummary, error) {
	t, err := ReadFile(path)
	if err != nil {
		return nil, api.DatasetSummary{}, err
	}
	return t, Profile(t, opts), nil
}
