// Package render prints datasets, schemas and session state for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Output formats accepted by Dataset.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func formatValue(v dataset.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	if v.Kind() == dataset.KindNumber {
		return strconv.FormatFloat(v.Num(), 'f', -1, 64)
	}
	return v.String()
}

// Dataset prints up to limit rows of ds in the given format. limit <= 0 prints all rows.
func Dataset(w io.Writer, ds *dataset.Dataset, limit int, format string) error {
	if ds == nil {
		_, _ = fmt.Fprintln(w, "(no data)")
		return nil
	}
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ds.Records(limit))
	}
	shown := ds.Head(limit)
	t := newTable(w)
	header := make(table.Row, shown.NumCols())
	for i, n := range shown.Names() {
		header[i] = n
	}
	t.AppendHeader(header)
	for i := 0; i < shown.NumRows(); i++ {
		vals := shown.Row(i)
		row := make(table.Row, len(vals))
		for j, v := range vals {
			row[j] = formatValue(v)
		}
		t.AppendRow(row)
	}
	switch format {
	case FormatCSV:
		t.RenderCSV()
		return nil
	case FormatMarkdown:
		t.RenderMarkdown()
		return nil
	}
	t.Render()
	if shown.NumRows() < ds.NumRows() {
		_, _ = fmt.Fprintf(w, "(%d of %d rows)\n", shown.NumRows(), ds.NumRows())
	} else {
		_, _ = fmt.Fprintf(w, "(%d rows)\n", ds.NumRows())
	}
	return nil
}

// Schema prints one line per column.
func Schema(w io.Writer, s schema.DatasetSchema) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Column", "Type", "Semantic", "Unique", "Nulls", "Samples"})
	for _, c := range s.Columns {
		samples := c.SampleValues
		if len(samples) > 3 {
			samples = samples[:3]
		}
		t.AppendRow(table.Row{c.Name, c.DataType, c.SemanticType, c.UniqueCount, c.NullCount, strings.Join(samples, ", ")})
	}
	t.SetCaption("%d rows, %d columns", s.RowCount, s.ColumnCount)
	t.Render()
}

// KPIs prints the headline metrics.
func KPIs(w io.Writer, kpis []insight.KPI) {
	if len(kpis) == 0 {
		_, _ = fmt.Fprintln(w, "(no KPIs)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"KPI", "Value"})
	for _, k := range kpis {
		t.AppendRow(table.Row{k.Name, FormatKPI(k)})
	}
	t.Render()
}

// FormatKPI renders a KPI value according to its format.
func FormatKPI(k insight.KPI) string {
	switch k.Format {
	case "currency":
		return "$" + groupThousands(k.Value, 2)
	case "decimal":
		return groupThousands(k.Value, 2)
	}
	return groupThousands(k.Value, 0)
}

func groupThousands(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

// Log prints operation log entries oldest first.
func Log(w io.Writer, entries []state.LogEntry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "(no operations)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Time", "Type", "Agent", "Description", "OK"})
	for _, e := range entries {
		desc := e.Description
		if !e.Success && e.Error != "" {
			desc += " (" + e.Error + ")"
		}
		ok := "yes"
		if !e.Success {
			ok = "no"
		}
		t.AppendRow(table.Row{e.Timestamp.Format("15:04:05"), e.Type, e.Agent, desc, ok})
	}
	t.Render()
}

// Summary prints the session status line.
func Summary(w io.Writer, s state.Summary) {
	if !s.HasData {
		_, _ = fmt.Fprintln(w, "No dataset loaded.")
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %d rows x %d columns | history %d | undo %t | redo %t | %d operations\n",
		s.Filename, s.Rows, s.Columns, s.HistoryDepth, s.CanUndo, s.CanRedo, s.TotalOperations)
}

// Outcome prints the result of one command followed by a preview of the dataset.
func Outcome(w io.Writer, out session.Outcome, ds *dataset.Dataset, rows int) error {
	if !out.Success {
		_, _ = fmt.Fprintf(w, "✗ %s\n", out.Error)
		return nil
	}
	_, _ = fmt.Fprintf(w, "✓ %s\n", out.Description)
	for _, a := range out.Actions {
		col := a.Column
		if col == "" {
			col = "(all)"
		}
		_, _ = fmt.Fprintf(w, "  - %s: %s, %s (%d affected)\n", col, a.Strategy, a.Reason, a.Affected)
	}
	if a := out.Artifact; a != nil {
		if a.Chart != nil {
			_, _ = fmt.Fprintf(w, "  chart: %s (%s", a.Chart.Title, a.Chart.Type)
			if a.Chart.X != "" {
				_, _ = fmt.Fprintf(w, ", x=%s", a.Chart.X)
			}
			if a.Chart.Y != "" {
				_, _ = fmt.Fprintf(w, ", y=%s", a.Chart.Y)
			}
			_, _ = fmt.Fprintln(w, ")")
		}
		for _, r := range a.Formatting {
			_, _ = fmt.Fprintf(w, "  format: %s on %s\n", r.Description, strings.Join(r.TargetColumns, ", "))
		}
	}
	if !out.Applied {
		return nil
	}
	return Dataset(w, ds, rows, FormatTable)
}
