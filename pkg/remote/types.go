package remote

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/dataset"
)

// DatasetInfo is the dataset description sent to the remote service.
type DatasetInfo struct {
	Columns       []string          `json:"columns"`
	ColumnTypes   map[string]string `json:"column_types"`
	RowCount      int               `json:"row_count"`
	MissingValues map[string]int    `json:"missing_values"`
	SampleData    []map[string]any  `json:"sample_data"`
}

// NewDatasetInfo converts a summary into the remote wire shape.
func NewDatasetInfo(s *api.DatasetSummary) DatasetInfo {
	sample := s.Sample
	if sample == nil {
		sample = []map[string]any{}
	}
	return DatasetInfo{
		Columns:       s.ColumnNames(),
		ColumnTypes:   s.ColumnTypes(),
		RowCount:      s.RowCount,
		MissingValues: s.MissingValues(),
		SampleData:    sample,
	}
}

// Summary converts the wire shape back into a summary. Columns without a
// known type are treated as text.
func (d DatasetInfo) Summary() api.DatasetSummary {
	cols := make([]api.Column, len(d.Columns))
	for i, name := range d.Columns {
		typ := api.ColumnType(d.ColumnTypes[name])
		switch typ {
		case api.ColumnNumeric, api.ColumnCategorical, api.ColumnDatetime, api.ColumnText:
		default:
			typ = api.ColumnText
		}
		cols[i] = api.Column{Name: name, Type: typ, Missing: d.MissingValues[name]}
	}
	return api.DatasetSummary{Columns: cols, RowCount: d.RowCount, Sample: d.SampleData}
}

// SampleTable rebuilds a table from the sample rows. Only the sample
// crosses the wire, so remote scripts run against it.
func (d DatasetInfo) SampleTable() *dataset.Table {
	t := &dataset.Table{Header: append([]string(nil), d.Columns...)}
	for _, row := range d.SampleData {
		cells := make([]string, len(d.Columns))
		for i, name := range d.Columns {
			cells[i] = cellString(row[name])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// VisualizeRequest is the body of POST /advanced-visualization.
type VisualizeRequest struct {
	Prompt       string      `json:"prompt"`
	DatasetInfo  DatasetInfo `json:"dataset_info"`
	OutputFormat string      `json:"output_format"`
}

// VisualizeResponse is the body returned by the remote service. Image
// lists may hold plain base64 strings or objects with an image field, and
// logs may be a string or a list of strings.
type VisualizeResponse struct {
	Success             bool            `json:"success"`
	Visualization       string          `json:"visualization,omitempty"`
	VisualizationsMulti json.RawMessage `json:"visualizations_multi,omitempty"`
	Visualizations      json.RawMessage `json:"visualizations,omitempty"`
	Insight             string          `json:"insight,omitempty"`
	Logs                json.RawMessage `json:"logs,omitempty"`
	Error               string          `json:"error,omitempty"`
	Script              string          `json:"script,omitempty"`
}

// NewVisualizeResponse renders an execution result in the wire shape.
// Images go into visualizations_multi as objects carrying their format.
func NewVisualizeResponse(res *api.ExecutionResult) *VisualizeResponse {
	vr := &VisualizeResponse{
		Success: res.Error == nil,
		Insight: res.Insight,
		Script:  res.Script,
	}
	if res.Error != nil {
		vr.Error = res.Error.Message
	}

	images := make([]imageEntry, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		images = append(images, imageEntry{
			Image:  base64.StdEncoding.EncodeToString(a.Data),
			Format: a.Format,
			Title:  a.Name,
		})
	}
	vr.VisualizationsMulti, _ = json.Marshal(images)

	logs := append([]string(nil), res.Logs...)
	if s := strings.TrimSpace(res.Stderr); s != "" {
		logs = append(logs, strings.Split(s, "\n")...)
	}
	if len(logs) > 0 {
		vr.Logs, _ = json.Marshal(logs)
	}
	return vr
}

// imageEntry is the object form of an image list element.
type imageEntry struct {
	Image  string `json:"image,omitempty"`
	Data   string `json:"data,omitempty"`
	Base64 string `json:"base64,omitempty"`
	Format string `json:"format,omitempty"`
	Title  string `json:"title,omitempty"`
}

func (e imageEntry) payload() string {
	switch {
	case e.Image != "":
		return e.Image
	case e.Data != "":
		return e.Data
	default:
		return e.Base64
	}
}

// encodedImage is one base64 image with an optional format hint.
type encodedImage struct {
	data   string
	format string
}

// parseImageList accepts a JSON list of strings or image objects. Anything
// else yields nothing.
func parseImageList(raw json.RawMessage) []encodedImage {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	var out []encodedImage
	for _, el := range elems {
		var s string
		if err := json.Unmarshal(el, &s); err == nil {
			if s != "" {
				out = append(out, encodedImage{data: s})
			}
			continue
		}
		var obj imageEntry
		if err := json.Unmarshal(el, &obj); err == nil && obj.payload() != "" {
			out = append(out, encodedImage{data: obj.payload(), format: obj.Format})
		}
	}
	return out
}

// parseLogs accepts a string or a list of strings.
func parseLogs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var lines []string
		for _, l := range strings.Split(s, "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
		return lines
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return []string{string(raw)}
}
