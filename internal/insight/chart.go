package insight

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

// ChartType names a supported visualization.
type ChartType string

const (
	ChartBar       ChartType = "bar"
	ChartLine      ChartType = "line"
	ChartPie       ChartType = "pie"
	ChartHistogram ChartType = "histogram"
	ChartScatter   ChartType = "scatter"
)

// ParseChartType matches s case-insensitively against the supported chart types.
func ParseChartType(s string) (ChartType, bool) {
	for _, t := range []ChartType{ChartBar, ChartLine, ChartPie, ChartHistogram, ChartScatter} {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, true
		}
	}
	return "", false
}

// ChartSpec is a renderer-agnostic chart description.
type ChartSpec struct {
	Type   ChartType `json:"chart_type"`
	Title  string    `json:"title"`
	X      string    `json:"x_column,omitempty"`
	Y      string    `json:"y_column,omitempty"`
	Agg    string    `json:"aggregation,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// SuggestChart picks a chart for the given columns, or for the whole schema when targets is empty.
// It returns false when no sensible chart exists.
func SuggestChart(s schema.DatasetSchema, targets []string) (ChartSpec, bool) {
	var dates, cats, nums []string
	consider := targets
	if len(consider) == 0 {
		consider = s.Names()
	}
	for _, name := range consider {
		c, ok := s.Column(name)
		if !ok {
			continue
		}
		switch c.DataType {
		case schema.Datetime:
			dates = append(dates, c.Name)
		case schema.Categorical:
			cats = append(cats, c.Name)
		case schema.Numeric:
			nums = append(nums, c.Name)
		}
	}
	switch {
	case len(dates) > 0 && len(nums) > 0:
		return ChartSpec{Type: ChartLine, Title: fmt.Sprintf("%s over %s", nums[0], dates[0]), X: dates[0], Y: nums[0], Agg: "sum", Reason: "time series"}, true
	case len(cats) > 0 && len(nums) > 0:
		return ChartSpec{Type: ChartBar, Title: fmt.Sprintf("%s by %s", nums[0], cats[0]), X: cats[0], Y: nums[0], Agg: "sum", Reason: "category comparison"}, true
	case len(nums) >= 2 && len(targets) > 0:
		return ChartSpec{Type: ChartScatter, Title: fmt.Sprintf("%s vs %s", nums[1], nums[0]), X: nums[0], Y: nums[1], Reason: "relationship"}, true
	case len(cats) > 0:
		c, _ := s.Column(cats[0])
		if c.UniqueCount <= 8 {
			return ChartSpec{Type: ChartPie, Title: "Share of " + c.Name, X: c.Name, Agg: "count", Reason: "composition"}, true
		}
		return ChartSpec{Type: ChartBar, Title: "Count by " + c.Name, X: c.Name, Agg: "count", Reason: "category counts"}, true
	case len(nums) > 0:
		return ChartSpec{Type: ChartHistogram, Title: "Distribution of " + nums[0], X: nums[0], Reason: "distribution"}, true
	}
	return ChartSpec{}, false
}

// DashboardCharts proposes up to four charts covering the schema.
func DashboardCharts(s schema.DatasetSchema) []ChartSpec {
	var out []ChartSpec
	nums := s.ByType(schema.Numeric)
	dates := s.ByType(schema.Datetime)
	cats := s.ByType(schema.Categorical)
	if len(dates) > 0 && len(nums) > 0 {
		out = append(out, ChartSpec{Type: ChartLine, Title: nums[0] + " trend", X: dates[0], Y: nums[0], Agg: "sum"})
	}
	if len(cats) > 0 && len(nums) > 0 {
		out = append(out, ChartSpec{Type: ChartBar, Title: nums[0] + " by " + cats[0], X: cats[0], Y: nums[0], Agg: "sum"})
	}
	if len(cats) > 0 {
		if c, _ := s.Column(cats[0]); c.UniqueCount <= 8 {
			out = append(out, ChartSpec{Type: ChartPie, Title: "Share of " + cats[0], X: cats[0], Agg: "count"})
		}
	}
	if len(nums) > 0 {
		out = append(out, ChartSpec{Type: ChartHistogram, Title: "Distribution of " + nums[0], X: nums[0]})
	}
	if len(out) > 4 {
		out = out[:4]
	}
	return out
}
