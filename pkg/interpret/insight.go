package interpret

import (
	"context"
	"fmt"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/provider"
)

const insightSystemPrompt = `You are a data analyst. You describe what a set of charts shows in plain
language for a non-technical reader.`

// Explain asks the model for a short description of what the generated
// charts show. It returns an empty string and a nil error when no provider
// is configured.
func (i *Interpreter) Explain(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan, artifacts []api.Artifact) (string, error) {
	if i.provider == nil {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(DescribeDataset(summary))
	fmt.Fprintf(&b, "\nUser request:\n%s\n\nCharts produced:\n", plan.Prompt)
	for n, a := range artifacts {
		desc := a.Name
		if n < len(plan.Graphs) {
			desc = plan.Graphs[n]
		}
		fmt.Fprintf(&b, "  %d. %s\n", n+1, desc)
	}
	b.WriteString("\nIn at most five sentences, describe the patterns these charts are likely to reveal. No code, no markdown headings.")

	resp, err := i.provider.Complete(ctx, provider.UserPrompt(i.model, insightSystemPrompt, b.String(), i.maxTokens))
	if err != nil {
		return "", fmt.Errorf("insight request: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
