// Package state owns a session's authoritative dataset and its undo/redo history.
package state

import (
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/google/uuid"
)

// LogType classifies an operation log entry.
type LogType string

const (
	LogLoad          LogType = "LOAD"
	LogClean         LogType = "CLEAN"
	LogTransform     LogType = "TRANSFORM"
	LogAnalytics     LogType = "ANALYTICS"
	LogVisualization LogType = "VISUALIZATION"
	LogExport        LogType = "EXPORT"
	LogUndo          LogType = "UNDO"
	LogRedo          LogType = "REDO"
)

// Derived is the metadata attached to the current dataset.
type Derived struct {
	Schema     *schema.DatasetSchema
	KPIs       []insight.KPI
	Charts     []insight.ChartSpec
	Formatting []insight.FormattingRule
	SourceName string
}

func (d Derived) clone() Derived {
	out := Derived{SourceName: d.SourceName}
	if d.Schema != nil {
		s := d.Schema.Clone()
		out.Schema = &s
	}
	if d.KPIs != nil {
		out.KPIs = append([]insight.KPI(nil), d.KPIs...)
	}
	if d.Charts != nil {
		out.Charts = append([]insight.ChartSpec(nil), d.Charts...)
	}
	out.Formatting = insight.CloneRules(d.Formatting)
	return out
}

// Snapshot is a point-in-time copy used for undo/redo.
type Snapshot struct {
	ID          string
	Timestamp   time.Time
	Dataset     *dataset.Dataset
	Derived     Derived
	Description string
}

// LogEntry records one state-affecting operation and who caused it.
type LogEntry struct {
	ID          string    `json:"id"`
	Type        LogType   `json:"type"`
	Agent       string    `json:"agent"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// AgentMessage records which component asked another for what.
type AgentMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Summary is a flat view of the manager for status displays.
type Summary struct {
	HasData         bool      `json:"has_data"`
	Rows            int       `json:"rows"`
	Columns         int       `json:"columns"`
	Filename        string    `json:"filename"`
	KPICount        int       `json:"kpi_count"`
	ChartCount      int       `json:"chart_count"`
	CanUndo         bool      `json:"can_undo"`
	CanRedo         bool      `json:"can_redo"`
	HistoryDepth    int       `json:"history_depth"`
	TotalOperations int       `json:"total_operations"`
	LoadTime        time.Time `json:"load_time,omitempty"`
}

// shortID returns the first 8 characters of a random UUID.
func shortID() string { return uuid.NewString()[:8] }
