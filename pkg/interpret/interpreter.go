// Package interpret turns a free-text visualization request into a
// normalized api.VisualizationPlan.
//
// The language model proposes chart types, columns and a complexity score;
// this package validates every proposal against the dataset summary, maps
// chart names onto the closed api.ChartKind set and fills gaps with
// deterministic rules, so the router always receives a well-formed plan.
package interpret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/provider"
)

// MaxComplexity is the upper bound of the complexity scale.
const MaxComplexity = 10.0

// Interpreter builds plans, asking a model when one is configured.
type Interpreter struct {
	provider  provider.Provider
	model     string
	maxTokens int
	logger    *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithMaxTokens bounds the planning answer.
func WithMaxTokens(n int) Option {
	return func(i *Interpreter) { i.maxTokens = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// New creates an Interpreter. A nil provider makes the interpreter purely
// rule based.
func New(p provider.Provider, model string, opts ...Option) *Interpreter {
	i := &Interpreter{
		provider:  p,
		model:     model,
		maxTokens: 1024,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// modelPlan is the JSON shape requested from the model.
type modelPlan struct {
	SpecificGraphs []string `json:"specific_graphs"`
	DefaultGraphs  []string `json:"default_graphs"`
	GraphTypes     []string `json:"graph_types"`
	Columns        []string `json:"columns"`
	Complexity     any      `json:"complexity"`
	Reasoning      string   `json:"reasoning"`
}

// Interpret produces a plan for request. Provider failures are returned as
// errors; an answer that cannot be parsed falls back to the rule-based plan.
func (i *Interpreter) Interpret(ctx context.Context, summary *api.DatasetSummary, request string) (*api.VisualizationPlan, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, errors.New("empty request")
	}
	if i.provider == nil {
		return Heuristic(summary, request), nil
	}

	resp, err := i.provider.Complete(ctx, provider.UserPrompt(i.model, systemPrompt, planPrompt(summary, request), i.maxTokens))
	if err != nil {
		return nil, fmt.Errorf("planning request: %w", err)
	}

	var raw modelPlan
	if err := ExtractJSON(resp.Text, &raw); err != nil {
		i.logger.Warn("unparseable plan from model, using rule-based plan",
			slog.String("error", err.Error()),
			slog.String("answer", debug.Truncate(resp.Text, 200)))
		return Heuristic(summary, request), nil
	}

	plan := normalize(summary, request, raw.toPlan())
	debug.Log("interpret", "plan", "kinds", plan.ChartKinds, "columns", plan.Columns,
		"complexity", plan.Complexity, "specific", plan.Specific)
	return plan, nil
}

// rawPlan is a model proposal before validation.
type rawPlan struct {
	Specific   []string
	Defaults   []string
	Kinds      []string
	Columns    []string
	Complexity *float64
	Reasoning  string
}

func (m modelPlan) toPlan() rawPlan {
	return rawPlan{
		Specific:   m.SpecificGraphs,
		Defaults:   m.DefaultGraphs,
		Kinds:      m.GraphTypes,
		Columns:    m.Columns,
		Complexity: parseComplexity(m.Complexity),
		Reasoning:  m.Reasoning,
	}
}

func parseComplexity(v any) *float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// normalize validates a model proposal against the summary:
//   - chart names are mapped onto api.ChartKind; kinds the user named
//     explicitly are always included
//   - columns that do not exist in the dataset are dropped
//   - complexity is clamped to [0, MaxComplexity], or derived when absent
//   - a request without specific charts gets three recommended charts
func normalize(summary *api.DatasetSummary, request string, raw rawPlan) *api.VisualizationPlan {
	plan := &api.VisualizationPlan{
		Prompt:    request,
		Reasoning: raw.Reasoning,
	}

	requested := KindsInText(request)
	var kinds []api.ChartKind
	for _, name := range raw.Kinds {
		kinds = append(kinds, NormalizeKind(name))
	}
	for _, g := range raw.Specific {
		kinds = append(kinds, KindsInText(g)...)
	}
	kinds = append(kinds, requested...)

	plan.Specific = len(raw.Specific) > 0 || len(requested) > 0
	switch {
	case len(raw.Specific) > 0:
		plan.Graphs = raw.Specific
	case len(raw.Defaults) > 0:
		plan.Graphs = raw.Defaults
		for _, g := range raw.Defaults {
			kinds = append(kinds, KindsInText(g)...)
		}
	}

	plan.Columns = resolveColumns(summary, raw.Columns)
	if len(plan.Columns) == 0 {
		plan.Columns = ColumnsInText(summary, request)
	}

	if len(plan.Graphs) == 0 && !plan.Specific {
		recs := Recommend(summary)
		for _, r := range recs {
			plan.Graphs = append(plan.Graphs, r.Description)
			kinds = append(kinds, r.Kind)
			plan.Columns = append(plan.Columns, r.Columns...)
		}
		plan.Columns = dedupe(plan.Columns)
	}

	plan.ChartKinds = dedupeKinds(kinds)
	if len(plan.ChartKinds) > 1 {
		// Drop "other" when something concrete was recognized.
		filtered := plan.ChartKinds[:0]
		for _, k := range plan.ChartKinds {
			if k != api.ChartOther {
				filtered = append(filtered, k)
			}
		}
		plan.ChartKinds = filtered
	}
	if len(plan.ChartKinds) == 0 {
		plan.ChartKinds = []api.ChartKind{api.ChartOther}
	}

	if raw.Complexity != nil {
		plan.Complexity = clamp(*raw.Complexity)
	} else {
		plan.Complexity = DeriveComplexity(plan.ChartKinds, plan.Columns)
	}
	return plan
}

// Heuristic builds a plan without a model, from chart and column names
// mentioned in the request.
func Heuristic(summary *api.DatasetSummary, request string) *api.VisualizationPlan {
	return normalize(summary, request, rawPlan{Reasoning: "rule-based plan"})
}

// DeriveComplexity scores a plan from its shape: one basic chart is 1, each
// additional chart adds 1.5, each column beyond two adds 0.5, and any
// advanced kind adds 6.
func DeriveComplexity(kinds []api.ChartKind, columns []string) float64 {
	score := 1.0
	if len(kinds) > 1 {
		score += 1.5 * float64(len(kinds)-1)
	}
	if len(columns) > 2 {
		score += 0.5 * float64(len(columns)-2)
	}
	for _, k := range kinds {
		switch k {
		case api.ChartMultiAxis, api.ChartScatter3D, api.ChartSurface3D, api.ChartModelFit:
			score += 6
			return clamp(score)
		}
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > MaxComplexity:
		return MaxComplexity
	default:
		return v
	}
}

func resolveColumns(summary *api.DatasetSummary, names []string) []string {
	var out []string
	for _, n := range names {
		if c, ok := summary.ResolveColumn(n); ok {
			out = append(out, c.Name)
		} else {
			debug.Log("interpret", "dropping unknown column", "column", n)
		}
	}
	return dedupe(out)
}

// ColumnsInText returns dataset columns whose names appear in text as whole
// words, in dataset order.
func ColumnsInText(summary *api.DatasetSummary, text string) []string {
	norm := normalizeText(text)
	var out []string
	for _, c := range summary.Columns {
		name := normalizeText(c.Name)
		if strings.TrimSpace(name) == "" {
			continue
		}
		if strings.Contains(norm, name) {
			out = append(out, c.Name)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func dedupeKinds(in []api.ChartKind) []api.ChartKind {
	seen := make(map[api.ChartKind]bool, len(in))
	var out []api.ChartKind
	for _, k := range in {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
