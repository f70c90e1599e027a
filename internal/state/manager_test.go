package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbers(vals ...float64) *dataset.Dataset {
	vs := make([]dataset.Value, len(vals))
	for i, v := range vals {
		vs[i] = dataset.Number(v)
	}
	return dataset.MustNew(dataset.NewColumn("x", vs))
}

func TestApplyUndoRedoRoundTrip(t *testing.T) {
	m := NewManager()
	before := numbers(1, 2, 3)
	m.Load(before, "in.csv")

	after := numbers(3, 2, 1)
	require.NoError(t, m.Apply(after, "reverse", "executor"))
	require.True(t, m.CanUndo())
	require.False(t, m.CanRedo())

	require.True(t, m.Undo())
	assert.True(t, m.Dataset().Equal(before))
	assert.True(t, m.CanRedo())

	require.True(t, m.Redo())
	assert.True(t, m.Dataset().Equal(after))
	assert.False(t, m.CanRedo())

	ops := m.Operations()
	assert.Equal(t, "Undid: reverse", ops[2].Description)
	assert.Equal(t, "Redid: reverse", ops[3].Description)
	assert.Equal(t, LogRedo, ops[3].Type)
}

func TestUndoOnEmptyStack(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Undo())
	assert.False(t, m.Redo())
	assert.Empty(t, m.Operations())
}

func TestHistoryIsBounded(t *testing.T) {
	const maxDepth = 5
	m := NewManager(WithMaxHistory(maxDepth))
	m.Load(numbers(0), "seed")
	for i := 1; i <= maxDepth+3; i++ {
		require.NoError(t, m.Apply(numbers(float64(i)), "step", "test"))
	}
	assert.Equal(t, maxDepth, m.HistoryDepth())

	undos := 0
	for m.Undo() {
		undos++
	}
	assert.Equal(t, maxDepth, undos)
	// The oldest surviving snapshot is the state after step 3.
	assert.True(t, m.Dataset().Equal(numbers(3)))
}

func TestApplyClearsRedo(t *testing.T) {
	m := NewManager()
	m.Load(numbers(1), "a")
	require.NoError(t, m.Apply(numbers(2), "two", "t"))
	require.True(t, m.Undo())
	require.True(t, m.CanRedo())
	require.NoError(t, m.Apply(numbers(5), "five", "t"))
	assert.False(t, m.CanRedo())
	assert.Equal(t, 1, m.HistoryDepth())
}

func TestLoadResetsHistory(t *testing.T) {
	m := NewManager()
	m.Load(numbers(1), "a")
	m.SetKPIs([]insight.KPI{{Name: "k"}})
	m.AddChart(insight.ChartSpec{Type: insight.ChartBar})
	m.SetSchema(schema.Infer(numbers(1)))
	require.NoError(t, m.Apply(numbers(2), "two", "t"))
	require.NoError(t, m.Apply(numbers(3), "three", "t"))
	require.True(t, m.Undo())

	m.Load(numbers(9), "b")
	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.Nil(t, m.Schema())
	assert.Empty(t, m.KPIs())
	assert.Empty(t, m.Charts())
	assert.Equal(t, "b", m.SourceName())
}

func TestUndoRestoresDerivedState(t *testing.T) {
	m := NewManager()
	m.Load(numbers(1), "a")
	m.SetKPIs([]insight.KPI{{Name: "before"}})
	require.NoError(t, m.Apply(numbers(2), "two", "t"))
	m.SetKPIs([]insight.KPI{{Name: "after"}})
	m.SetFormattingRules([]insight.FormattingRule{{RuleType: insight.RuleColorScale}})

	require.True(t, m.Undo())
	assert.Equal(t, "before", m.KPIs()[0].Name)
	assert.Empty(t, m.FormattingRules())

	require.True(t, m.Redo())
	assert.Equal(t, "after", m.KPIs()[0].Name)
	assert.Len(t, m.FormattingRules(), 1)
}

func TestSettersDoNotSnapshot(t *testing.T) {
	m := NewManager()
	m.Load(numbers(1), "a")
	m.SetKPIs(nil)
	m.AddChart(insight.ChartSpec{})
	m.ClearCharts()
	m.SetFormattingRules(nil)
	assert.Equal(t, 0, m.HistoryDepth())
}

func TestApplyRejectsNil(t *testing.T) {
	m := NewManager()
	m.Load(numbers(1), "a")
	assert.ErrorIs(t, m.Apply(nil, "bad", "t"), ErrNilDataset)
	assert.Equal(t, 0, m.HistoryDepth())
}

func TestSnapshotIsIsolatedFromLaterMutation(t *testing.T) {
	m := NewManager()
	orig := numbers(1, 2)
	m.Load(orig, "a")
	require.NoError(t, m.Apply(numbers(7), "seven", "t"))
	orig.Columns()[0].Values[0] = dataset.Number(100)
	require.True(t, m.Undo())
	assert.Equal(t, 1.0, m.Dataset().Columns()[0].Values[0].Num())
}

func TestRecentOperationsAndSummary(t *testing.T) {
	m := NewManager()
	m.Load(numbers(1, 2), "sales.csv")
	for i := 0; i < 12; i++ {
		require.NoError(t, m.Apply(numbers(float64(i)), "step", "t"))
	}
	m.LogOperation(LogTransform, "executor", "ranking", false, errors.New("column x is not numeric"))

	recent := m.RecentOperations(0)
	require.Len(t, recent, 10)
	last := recent[len(recent)-1]
	assert.False(t, last.Success)
	assert.Equal(t, "column x is not numeric", last.Error)
	assert.Len(t, last.ID, 8)

	s := m.Summary()
	assert.True(t, s.HasData)
	assert.Equal(t, 1, s.Rows)
	assert.Equal(t, "sales.csv", s.Filename)
	assert.Equal(t, 12, s.HistoryDepth)
	assert.Equal(t, 14, s.TotalOperations)
	assert.True(t, s.CanUndo)

	m.Reset()
	assert.False(t, m.Summary().HasData)
	assert.Empty(t, m.Operations())
}

func TestAgentMessagesAndAuditSink(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(WithAuditSink(&buf))
	m.Load(numbers(1), "a")
	m.LogAgentMessage("resolver", "executor", "ranking on x", map[string]any{"confidence": 0.9})

	msgs := m.AgentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "resolver", msgs[0].From)
	assert.Equal(t, 0, m.HistoryDepth())
	assert.Len(t, m.Operations(), 1, "agent messages are a separate channel")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var line struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &line))
	assert.Equal(t, "agent_message", line.Kind)
}
