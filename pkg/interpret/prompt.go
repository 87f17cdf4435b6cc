package interpret

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
)

const systemPrompt = `You are a data visualization planner. You read a dataset summary and a
user request and answer with a single JSON object, no prose.`

const planInstructions = `Decide which charts to draw for the request below.

If the user names specific charts, list them in "specific_graphs" and leave
"default_graphs" empty. If the request is general ("analyze this", "show me
something interesting"), leave "specific_graphs" empty and recommend exactly
three charts in "default_graphs" that suit the column types.

Answer with this JSON shape:
{
  "specific_graphs": ["short description of each requested chart"],
  "default_graphs": ["short description of each recommended chart"],
  "graph_types": ["one of: %s"],
  "columns": ["exact column names used"],
  "complexity": 0-10,
  "reasoning": "one or two sentences"
}

complexity is 0 for a single basic chart and 10 for multi-panel, 3D, dual-axis
or statistical model fitting work.`

// planPrompt renders the user turn for the planning request.
func planPrompt(summary *api.DatasetSummary, request string) string {
	kinds := make([]string, len(api.AllChartKinds))
	for i, k := range api.AllChartKinds {
		kinds[i] = string(k)
	}
	var b strings.Builder
	fmt.Fprintf(&b, planInstructions, strings.Join(kinds, ", "))
	b.WriteString("\n\n")
	b.WriteString(DescribeDataset(summary))
	b.WriteString("\nUser request:\n")
	b.WriteString(request)
	return b.String()
}

// DescribeDataset renders a summary as plain text for model prompts: shape,
// column list with types and missing counts, and the sample rows as JSON.
func DescribeDataset(summary *api.DatasetSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows x %d columns\n", summary.RowCount, len(summary.Columns))
	b.WriteString("Columns:\n")
	for _, c := range summary.Columns {
		fmt.Fprintf(&b, "  - %s (%s", c.Name, c.Type)
		if c.Missing > 0 {
			fmt.Fprintf(&b, ", %d missing", c.Missing)
		}
		b.WriteString(")\n")
	}
	if len(summary.Sample) > 0 {
		sample, err := json.Marshal(summary.Sample)
		if err == nil {
			b.WriteString("Sample rows:\n")
			b.Write(sample)
			b.WriteString("\n")
		}
	}
	return b.String()
}
