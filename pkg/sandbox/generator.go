package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/interpret"
	"github.com/rhuss/plotwise/pkg/provider"
)

// ScriptGenerator produces a runnable plotting script for a plan.
type ScriptGenerator interface {
	Generate(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan) (string, error)
}

// GeneratorFunc adapts a function to ScriptGenerator.
type GeneratorFunc func(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan) (string, error) {
	return f(ctx, summary, plan)
}

// ErrNoScript is returned when the model answer holds no code.
var ErrNoScript = errors.New("model answer contains no script")

const generatorSystemPrompt = `You write self-contained Python 3 scripts that draw charts with pandas
and matplotlib (seaborn and numpy are also installed). Answer with one
python code block and nothing else.`

const scriptRules = `Rules:
- Read the data with pandas.read_csv(os.environ["DATASET_PATH"]).
- Save charts into os.environ["OUTPUT_DIR"]. A single chart is saved as
  main.png; several charts are saved as graph_1.png, graph_2.png, ...
- Never call plt.show(). Close each figure after saving it.
- Use only the column names listed above.
- Do not read or write any other files and do not access the network.
- Print a one-line summary of what was drawn to stdout.`

// LLMGenerator asks a language model for the script.
type LLMGenerator struct {
	provider  provider.Provider
	model     string
	maxTokens int
}

// NewLLMGenerator creates a generator backed by p.
func NewLLMGenerator(p provider.Provider, model string, maxTokens int) *LLMGenerator {
	return &LLMGenerator{provider: p, model: model, maxTokens: maxTokens}
}

// Generate implements ScriptGenerator.
func (g *LLMGenerator) Generate(ctx context.Context, summary *api.DatasetSummary, plan *api.VisualizationPlan) (string, error) {
	resp, err := g.provider.Complete(ctx, provider.UserPrompt(g.model, generatorSystemPrompt, scriptPrompt(summary, plan), g.maxTokens))
	if err != nil {
		return "", err
	}
	code := interpret.ExtractCode(resp.Text)
	if code == "" {
		return "", ErrNoScript
	}
	debug.Trace("sandbox", "generated script", "script", debug.Truncate(code, 2000))
	return code, nil
}

func scriptPrompt(summary *api.DatasetSummary, plan *api.VisualizationPlan) string {
	var b strings.Builder
	b.WriteString(interpret.DescribeDataset(summary))
	fmt.Fprintf(&b, "\nUser request:\n%s\n\n", plan.Prompt)

	kinds := make([]string, len(plan.ChartKinds))
	for i, k := range plan.ChartKinds {
		kinds[i] = string(k)
	}
	fmt.Fprintf(&b, "Chart types: %s\n", strings.Join(kinds, ", "))
	if len(plan.Columns) > 0 {
		fmt.Fprintf(&b, "Columns to use: %s\n", strings.Join(plan.Columns, ", "))
	}
	if len(plan.Graphs) > 0 {
		b.WriteString("Charts to draw:\n")
		for i, g := range plan.Graphs {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, g)
		}
	}
	b.WriteString("\n")
	b.WriteString(scriptRules)
	return b.String()
}
