package api

import (
	"encoding/json"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Dataset summary
// ---------------------------------------------------------------------------

// ColumnType is the inferred type of a dataset column.
type ColumnType string

const (
	ColumnNumeric     ColumnType = "numeric"
	ColumnCategorical ColumnType = "categorical"
	ColumnDatetime    ColumnType = "datetime"
	ColumnText        ColumnType = "text"
)

// Column describes one column of a profiled dataset.
type Column struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Missing int        `json:"missing"`
}

// DatasetSummary is the profiler's view of a tabular file: the ordered
// column list with inferred types, the row count and a bounded sample of
// leading rows. A summary is immutable once produced.
type DatasetSummary struct {
	Columns  []Column         `json:"columns"`
	RowCount int              `json:"row_count"`
	Sample   []map[string]any `json:"sample"`
}

// ColumnNames returns the column names in file order.
func (s *DatasetSummary) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by exact name.
func (s *DatasetSummary) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ResolveColumn looks up a column by name, falling back to a
// case-insensitive, whitespace-trimmed match.
func (s *DatasetSummary) ResolveColumn(name string) (Column, bool) {
	if c, ok := s.Column(name); ok {
		return c, true
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, c := range s.Columns {
		if strings.ToLower(strings.TrimSpace(c.Name)) == want {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnsOfType returns the names of all columns with the given type.
func (s *DatasetSummary) ColumnsOfType(t ColumnType) []string {
	var names []string
	for _, c := range s.Columns {
		if c.Type == t {
			names = append(names, c.Name)
		}
	}
	return names
}

// ColumnTypes returns a name to type map.
func (s *DatasetSummary) ColumnTypes() map[string]string {
	m := make(map[string]string, len(s.Columns))
	for _, c := range s.Columns {
		m[c.Name] = string(c.Type)
	}
	return m
}

// MissingValues returns a name to missing-count map.
func (s *DatasetSummary) MissingValues() map[string]int {
	m := make(map[string]int, len(s.Columns))
	for _, c := range s.Columns {
		m[c.Name] = c.Missing
	}
	return m
}

// Dataset is an uploaded file together with its summary.
type Dataset struct {
	ID        string         `json:"id"`
	Filename  string         `json:"filename"`
	Summary   DatasetSummary `json:"summary"`
	CreatedAt int64          `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Visualization plan
// ---------------------------------------------------------------------------

// ChartKind is a normalized chart category.
type ChartKind string

const (
	ChartLine      ChartKind = "line"
	ChartBar       ChartKind = "bar"
	ChartHistogram ChartKind = "histogram"
	ChartScatter   ChartKind = "scatter"
	ChartBox       ChartKind = "box"
	ChartPie       ChartKind = "pie"
	ChartHeatmap   ChartKind = "heatmap"
	ChartArea      ChartKind = "area"
	ChartViolin    ChartKind = "violin"
	ChartMultiAxis ChartKind = "multi_axis"
	ChartScatter3D ChartKind = "scatter_3d"
	ChartSurface3D ChartKind = "surface_3d"
	ChartModelFit  ChartKind = "model_fit"
	ChartOther     ChartKind = "other"
)

// AllChartKinds lists every known chart kind.
var AllChartKinds = []ChartKind{
	ChartLine, ChartBar, ChartHistogram, ChartScatter, ChartBox, ChartPie,
	ChartHeatmap, ChartArea, ChartViolin, ChartMultiAxis, ChartScatter3D,
	ChartSurface3D, ChartModelFit, ChartOther,
}

// Valid reports whether k is one of the known chart kinds.
func (k ChartKind) Valid() bool {
	for _, known := range AllChartKinds {
		if k == known {
			return true
		}
	}
	return false
}

// VisualizationPlan is the interpreter's structured reading of a user request.
// Specific is true when the user named the charts they want; otherwise
// Graphs holds recommended charts derived from the dataset.
type VisualizationPlan struct {
	Prompt     string      `json:"prompt"`
	ChartKinds []ChartKind `json:"chart_kinds"`
	Columns    []string    `json:"columns,omitempty"`
	Graphs     []string    `json:"graphs,omitempty"`
	Specific   bool        `json:"specific"`
	Complexity float64     `json:"complexity"`
	Reasoning  string      `json:"reasoning,omitempty"`
}

// HasKind reports whether the plan requests the given chart kind.
func (p *VisualizationPlan) HasKind(k ChartKind) bool {
	for _, pk := range p.ChartKinds {
		if pk == k {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Route names the execution path chosen for a request.
type Route string

const (
	RouteLocal  Route = "local"
	RouteRemote Route = "remote"
)

// Artifact is one image produced by an execution. Data holds the raw bytes
// while the artifact is in memory; Key is set once the bytes have been
// written to an object store.
type Artifact struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Size   int    `json:"size"`
	Key    string `json:"key,omitempty"`
	Data   []byte `json:"-"`
}

// ContentType returns the MIME type for the artifact format.
func (a *Artifact) ContentType() string {
	switch a.Format {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "webp":
		return "image/webp"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// ExecutionResult is the outcome of one local or remote execution.
//
// Success with zero artifacts is reported as NoArtifacts, never as a plain
// success. A failure always carries an Error and whatever diagnostics were
// captured.
type ExecutionResult struct {
	Route       Route           `json:"route"`
	Success     bool            `json:"success"`
	NoArtifacts bool            `json:"no_artifacts,omitempty"`
	Error       *ExecutionError `json:"error,omitempty"`
	Artifacts   []Artifact      `json:"artifacts"`
	Script      string          `json:"script,omitempty"`
	Stdout      string          `json:"stdout,omitempty"`
	Stderr      string          `json:"stderr,omitempty"`
	Logs        []string        `json:"logs,omitempty"`
	Insight     string          `json:"insight,omitempty"`
	ExitCode    int             `json:"exit_code"`
	DurationMS  int64           `json:"duration_ms"`
}

// Outcome returns a short label for metrics and logs: "success",
// "no_artifacts", or the error code.
func (r *ExecutionResult) Outcome() string {
	switch {
	case r.Error != nil:
		return string(r.Error.Code)
	case r.NoArtifacts:
		return "no_artifacts"
	default:
		return "success"
	}
}

// NewFailedResult builds a failed result for the given route.
func NewFailedResult(route Route, err *ExecutionError) *ExecutionResult {
	return &ExecutionResult{Route: route, Error: err, ExitCode: -1}
}

// ---------------------------------------------------------------------------
// Runs and ratings
// ---------------------------------------------------------------------------

// VisualizeRequest asks for charts on an uploaded dataset. Route may be
// empty (automatic), "local" or "remote".
type VisualizeRequest struct {
	DatasetID string `json:"dataset_id"`
	Prompt    string `json:"prompt"`
	Route     string `json:"route,omitempty"`
	RetryOf   string `json:"retry_of,omitempty"`
}

// Run is a persisted visualization attempt.
type Run struct {
	ID        string             `json:"id"`
	Object    string             `json:"object"`
	DatasetID string             `json:"dataset_id"`
	Prompt    string             `json:"prompt"`
	Plan      *VisualizationPlan `json:"plan,omitempty"`
	Forced    bool               `json:"forced,omitempty"`
	RetryOf   string             `json:"retry_of,omitempty"`
	CreatedAt int64              `json:"created_at"`
	ExecutionResult
}

// MarshalJSON keeps the embedded artifacts list non-null.
func (r Run) MarshalJSON() ([]byte, error) {
	type alias Run
	a := alias(r)
	if a.Artifacts == nil {
		a.Artifacts = []Artifact{}
	}
	return json.Marshal(a)
}

// NewRun creates a run record from an execution result.
func NewRun(req *VisualizeRequest, plan *VisualizationPlan, result *ExecutionResult) *Run {
	return &Run{
		ID:              NewRunID(),
		Object:          "visualization.run",
		DatasetID:       req.DatasetID,
		Prompt:          req.Prompt,
		Plan:            plan,
		Forced:          req.Route == string(RouteLocal) || req.Route == string(RouteRemote),
		RetryOf:         req.RetryOf,
		CreatedAt:       time.Now().Unix(),
		ExecutionResult: *result,
	}
}

// RatingRecord is user feedback on a run: 1 for good, 0 for bad.
type RatingRecord struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// RatingStats aggregates all ratings. Score is the share of good ratings in
// percent, zero when nothing has been rated.
type RatingStats struct {
	Rated int     `json:"rated"`
	Good  int     `json:"good"`
	Bad   int     `json:"bad"`
	Score float64 `json:"score"`
}

// ComputeRatingStats derives stats from good and bad counts.
func ComputeRatingStats(good, bad int) RatingStats {
	s := RatingStats{Rated: good + bad, Good: good, Bad: bad}
	if s.Rated > 0 {
		s.Score = float64(good) / float64(s.Rated) * 100
	}
	return s
}

// ---------------------------------------------------------------------------
// Script diffs
// ---------------------------------------------------------------------------

// Line kinds in a ScriptDiff.
const (
	DiffContext = "context"
	DiffAdded   = "added"
	DiffRemoved = "removed"
)

// DiffLine is one line of a script diff.
type DiffLine struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// ScriptDiff compares the scripts of two runs line by line. Truncated is
// set, and Lines left empty, when the scripts are too long to diff.
type ScriptDiff struct {
	Object    string     `json:"object"`
	RunID     string     `json:"run_id"`
	OtherID   string     `json:"other_id"`
	Added     int        `json:"added"`
	Removed   int        `json:"removed"`
	Truncated bool       `json:"truncated,omitempty"`
	Lines     []DiffLine `json:"lines"`
}
