package interpret

import (
	"fmt"

	"github.com/rhuss/plotwise/pkg/api"
)

// DefaultRecommendations is the number of charts proposed for a general
// request.
const DefaultRecommendations = 3

// Recommendation is one chart proposed from column types alone.
type Recommendation struct {
	Kind        api.ChartKind
	Columns     []string
	Description string
}

// Recommend proposes up to DefaultRecommendations charts that suit the
// dataset's column types. The rules are applied in order and each
// contributes at most one chart:
//
//	datetime + numeric     -> line of the first numeric over time
//	numeric                -> histogram of the first numeric
//	categorical + numeric  -> bar of the numeric per category
//	two numerics           -> scatter of the first two numerics
//	three numerics         -> correlation heatmap
//	categorical            -> bar of category counts
//	numeric + categorical  -> box plot of the numeric per category
func Recommend(summary *api.DatasetSummary) []Recommendation {
	nums := summary.ColumnsOfType(api.ColumnNumeric)
	cats := summary.ColumnsOfType(api.ColumnCategorical)
	dates := summary.ColumnsOfType(api.ColumnDatetime)

	var recs []Recommendation
	add := func(r Recommendation) {
		if len(recs) < DefaultRecommendations {
			recs = append(recs, r)
		}
	}

	if len(dates) > 0 && len(nums) > 0 {
		add(Recommendation{api.ChartLine, []string{dates[0], nums[0]},
			fmt.Sprintf("Line chart of %s over %s", nums[0], dates[0])})
	}
	if len(nums) > 0 {
		add(Recommendation{api.ChartHistogram, []string{nums[0]},
			fmt.Sprintf("Histogram of %s", nums[0])})
	}
	if len(cats) > 0 && len(nums) > 0 {
		add(Recommendation{api.ChartBar, []string{cats[0], nums[0]},
			fmt.Sprintf("Bar chart of average %s by %s", nums[0], cats[0])})
	}
	if len(nums) > 1 {
		add(Recommendation{api.ChartScatter, []string{nums[0], nums[1]},
			fmt.Sprintf("Scatter plot of %s against %s", nums[1], nums[0])})
	}
	if len(nums) > 2 {
		add(Recommendation{api.ChartHeatmap, append([]string(nil), nums...),
			"Correlation heatmap of numeric columns"})
	}
	if len(cats) > 0 {
		add(Recommendation{api.ChartBar, []string{cats[0]},
			fmt.Sprintf("Bar chart of %s counts", cats[0])})
	}
	if len(cats) > 0 && len(nums) > 0 {
		add(Recommendation{api.ChartBox, []string{cats[0], nums[0]},
			fmt.Sprintf("Box plot of %s by %s", nums[0], cats[0])})
	}
	if len(recs) == 0 && len(summary.Columns) > 0 {
		first := summary.Columns[0].Name
		add(Recommendation{api.ChartBar, []string{first},
			fmt.Sprintf("Bar chart of the most frequent %s values", first)})
	}
	return recs
}
