package render

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/executor"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sales() *dataset.Dataset {
	return dataset.MustNew(
		dataset.NewColumn("Region", []dataset.Value{dataset.String("West"), dataset.String("East"), dataset.Null()}),
		dataset.NewColumn("Revenue", []dataset.Value{dataset.Number(1500), dataset.Number(20.25), dataset.Number(7)}),
	)
}

func TestDatasetTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dataset(&buf, sales(), 2, FormatTable))
	out := buf.String()
	assert.Contains(t, out, "Region")
	assert.Contains(t, out, "1500")
	assert.NotContains(t, out, "NULL")
	assert.Contains(t, out, "(2 of 3 rows)")

	buf.Reset()
	require.NoError(t, Dataset(&buf, sales(), 0, FormatTable))
	assert.Contains(t, buf.String(), "NULL")
	assert.Contains(t, buf.String(), "(3 rows)")
}

func TestDatasetOtherFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dataset(&buf, sales(), 0, FormatJSON))
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &recs))
	require.Len(t, recs, 3)
	assert.Nil(t, recs[2]["Region"])

	buf.Reset()
	require.NoError(t, Dataset(&buf, sales(), 0, FormatCSV))
	assert.Contains(t, buf.String(), "Region,Revenue")

	buf.Reset()
	require.NoError(t, Dataset(&buf, sales(), 0, FormatMarkdown))
	assert.Contains(t, buf.String(), "| Region | Revenue |")

	buf.Reset()
	require.NoError(t, Dataset(&buf, nil, 0, FormatTable))
	assert.Equal(t, "(no data)\n", buf.String())
}

func TestSchemaAndKPIs(t *testing.T) {
	var buf bytes.Buffer
	Schema(&buf, schema.Infer(sales()))
	assert.Contains(t, buf.String(), "Revenue")
	assert.Contains(t, buf.String(), "3 rows, 2 columns")

	buf.Reset()
	KPIs(&buf, []insight.KPI{{Name: "Total Revenue", Value: 1527.25, Format: "currency"}})
	assert.Contains(t, buf.String(), "$1,527.25")
}

func TestFormatKPI(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatKPI(insight.KPI{Value: 1234567}))
	assert.Equal(t, "-1,000.50", FormatKPI(insight.KPI{Value: -1000.5, Format: "decimal"}))
	assert.Equal(t, "$999.00", FormatKPI(insight.KPI{Value: 999, Format: "currency"}))
}

func TestLogAndSummary(t *testing.T) {
	var buf bytes.Buffer
	Log(&buf, []state.LogEntry{
		{Type: state.LogLoad, Agent: "session", Description: "Loaded sales.csv", Timestamp: time.Now(), Success: true},
		{Type: state.LogTransform, Agent: "executor", Description: "top 3 region", Timestamp: time.Now(), Error: "type mismatch"},
	})
	assert.Contains(t, buf.String(), "Loaded sales.csv")
	assert.Contains(t, buf.String(), "(type mismatch)")

	buf.Reset()
	Summary(&buf, state.Summary{})
	assert.Equal(t, "No dataset loaded.\n", buf.String())
	buf.Reset()
	Summary(&buf, state.Summary{HasData: true, Filename: "sales.csv", Rows: 3, Columns: 2, CanUndo: true})
	assert.Contains(t, buf.String(), "sales.csv: 3 rows x 2 columns")
}

func TestOutcome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Outcome(&buf, session.Outcome{Error: "column not found"}, nil, 5))
	assert.Equal(t, "✗ column not found\n", buf.String())

	buf.Reset()
	out := session.Outcome{
		Success:     true,
		Applied:     true,
		Description: "Cleaned data",
		Actions:     []executor.CleaningAction{{Column: "Revenue", Strategy: "fill_median", Reason: "2 nulls", Affected: 2}},
	}
	require.NoError(t, Outcome(&buf, out, sales(), 1))
	assert.Contains(t, buf.String(), "✓ Cleaned data")
	assert.Contains(t, buf.String(), "Revenue: fill_median, 2 nulls (2 affected)")
	assert.Contains(t, buf.String(), "(1 of 3 rows)")

	buf.Reset()
	chart := insight.ChartSpec{Type: insight.ChartBar, Title: "Revenue by Region", X: "Region", Y: "Revenue"}
	require.NoError(t, Outcome(&buf, session.Outcome{Success: true, Description: "Suggested chart", Artifact: &executor.Artifact{Chart: &chart}}, sales(), 5))
	assert.Contains(t, buf.String(), "x=Region, y=Revenue")
	assert.NotContains(t, buf.String(), "rows)")
}
