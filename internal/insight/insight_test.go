package insight

import (
	"testing"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() *dataset.Dataset {
	d := func(day int) dataset.Value { return dataset.Time(time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)) }
	return dataset.MustNew(
		dataset.NewColumn("Region", []dataset.Value{dataset.String("N"), dataset.String("S"), dataset.String("N")}),
		dataset.NewColumn("Revenue", []dataset.Value{dataset.Number(10), dataset.Number(20), dataset.Number(30)}),
		dataset.NewColumn("Qty", []dataset.Value{dataset.Number(1), dataset.Number(2), dataset.Number(3)}),
		dataset.NewColumn("Date", []dataset.Value{d(1), d(11), d(5)}),
	)
}

func TestComputeKPIs(t *testing.T) {
	ds := fixture()
	kpis := ComputeKPIs(ds, schema.Infer(ds))
	require.Len(t, kpis, 6)
	assert.Equal(t, KPI{Name: "Total Records", Value: 3, Format: "number"}, kpis[0])
	assert.Equal(t, KPI{Name: "Total Revenue", Value: 60, Format: "currency"}, kpis[1])
	assert.Equal(t, KPI{Name: "Average Revenue", Value: 20, Format: "currency"}, kpis[2])
	assert.Equal(t, KPI{Name: "Total Qty", Value: 6, Format: "number"}, kpis[3])
	assert.Equal(t, "Unique Region", kpis[4].Name)
	assert.Equal(t, KPI{Name: "Date Range (Days)", Value: 10, Format: "number"}, kpis[5])
}

func TestKPIFormatValue(t *testing.T) {
	assert.Equal(t, "$12.50", KPI{Value: 12.5, Format: "currency"}.FormatValue())
	assert.Equal(t, "3", KPI{Value: 3, Format: "number"}.FormatValue())
}

func TestSuggestChart(t *testing.T) {
	s := schema.Infer(fixture())
	c, ok := SuggestChart(s, nil)
	require.True(t, ok)
	assert.Equal(t, ChartLine, c.Type)
	assert.Equal(t, "Date", c.X)

	c, ok = SuggestChart(s, []string{"Region", "Revenue"})
	require.True(t, ok)
	assert.Equal(t, ChartBar, c.Type)

	c, ok = SuggestChart(s, []string{"Region"})
	require.True(t, ok)
	assert.Equal(t, ChartPie, c.Type)

	c, ok = SuggestChart(s, []string{"Revenue", "Qty"})
	require.True(t, ok)
	assert.Equal(t, ChartScatter, c.Type)

	_, ok = SuggestChart(s, []string{"missing"})
	assert.False(t, ok)
}

func TestDashboardCharts(t *testing.T) {
	charts := DashboardCharts(schema.Infer(fixture()))
	require.Len(t, charts, 4)
	assert.Equal(t, ChartHistogram, charts[3].Type)
}

func TestFormattingRulesFor(t *testing.T) {
	rules := FormattingRulesFor("highlight the highest and lowest revenue", []string{"Revenue"})
	require.Len(t, rules, 2)
	assert.Equal(t, RuleHighlightMax, rules[0].RuleType)
	assert.Equal(t, RuleHighlightMin, rules[1].RuleType)

	rules = FormattingRulesFor("format it", []string{"Revenue"})
	require.Len(t, rules, 1)
	assert.Equal(t, RuleHighlightExtremes, rules[0].RuleType)

	rules = FormattingRulesFor("values above average", []string{"Revenue"})
	assert.Equal(t, RuleThreshold, rules[0].RuleType)
	assert.Equal(t, "mean", rules[0].Threshold)
}

func TestParseChartType(t *testing.T) {
	ct, ok := ParseChartType(" Scatter")
	assert.True(t, ok)
	assert.Equal(t, ChartScatter, ct)
	_, ok = ParseChartType("radar")
	assert.False(t, ok)
}
