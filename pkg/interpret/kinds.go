package interpret

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rhuss/plotwise/pkg/api"
)

// kindPhrases maps phrases found in free text or model output to chart
// kinds. Longer, more specific phrases come first so "3d scatter" wins
// over "scatter".
var kindPhrases = []struct {
	phrase string
	kind   api.ChartKind
}{
	{"3d surface", api.ChartSurface3D},
	{"surface plot", api.ChartSurface3D},
	{"surface", api.ChartSurface3D},
	{"3d scatter", api.ChartScatter3D},
	{"scatter 3d", api.ChartScatter3D},
	{"scatter3d", api.ChartScatter3D},
	{"three dimensional", api.ChartScatter3D},
	{"3d", api.ChartScatter3D},
	{"dual axis", api.ChartMultiAxis},
	{"dual-axis", api.ChartMultiAxis},
	{"twin axis", api.ChartMultiAxis},
	{"secondary axis", api.ChartMultiAxis},
	{"multi axis", api.ChartMultiAxis},
	{"multi-axis", api.ChartMultiAxis},
	{"two y axes", api.ChartMultiAxis},
	{"regression", api.ChartModelFit},
	{"trend line", api.ChartModelFit},
	{"trendline", api.ChartModelFit},
	{"line of best fit", api.ChartModelFit},
	{"curve fit", api.ChartModelFit},
	{"model fit", api.ChartModelFit},
	{"forecast", api.ChartModelFit},
	{"histogram", api.ChartHistogram},
	{"distribution", api.ChartHistogram},
	{"heatmap", api.ChartHeatmap},
	{"heat map", api.ChartHeatmap},
	{"correlation matrix", api.ChartHeatmap},
	{"box plot", api.ChartBox},
	{"boxplot", api.ChartBox},
	{"box", api.ChartBox},
	{"violin", api.ChartViolin},
	{"scatter", api.ChartScatter},
	{"pie", api.ChartPie},
	{"donut", api.ChartPie},
	{"area", api.ChartArea},
	{"stacked area", api.ChartArea},
	{"bar", api.ChartBar},
	{"column chart", api.ChartBar},
	{"count plot", api.ChartBar},
	{"line", api.ChartLine},
	{"time series", api.ChartLine},
	{"trend", api.ChartLine},
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeText(s string) string {
	return " " + strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(s), " ")) + " "
}

// NormalizeKind maps a model- or user-supplied chart name to a ChartKind.
// Unrecognized names map to ChartOther.
func NormalizeKind(name string) api.ChartKind {
	k := api.ChartKind(strings.ToLower(strings.TrimSpace(name)))
	if k.Valid() {
		return k
	}
	text := normalizeText(name)
	for _, p := range kindPhrases {
		if strings.Contains(text, normalizeText(p.phrase)) {
			return p.kind
		}
	}
	return api.ChartOther
}

// KindsInText returns every chart kind mentioned in free text, in order of
// first mention and without duplicates. A phrase consumed by a more specific
// match ("3d scatter") does not also count as its generic kind ("scatter").
func KindsInText(text string) []api.ChartKind {
	norm := normalizeText(text)
	type hit struct {
		pos  int
		kind api.ChartKind
	}
	var hits []hit
	for _, p := range kindPhrases {
		phrase := normalizeText(p.phrase)
		idx := strings.Index(norm, phrase)
		if idx < 0 {
			continue
		}
		hits = append(hits, hit{idx, p.kind})
		norm = norm[:idx] + strings.Repeat(" ", len(phrase)) + norm[idx+len(phrase):]
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	seen := make(map[api.ChartKind]bool)
	var kinds []api.ChartKind
	for _, h := range hits {
		if !seen[h.kind] {
			seen[h.kind] = true
			kinds = append(kinds, h.kind)
		}
	}
	return kinds
}
