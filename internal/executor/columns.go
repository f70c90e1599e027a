package executor

import (
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

// column resolves name case-insensitively.
func (c *opContext) column(name, role string) (*dataset.Column, error) {
	col, ok := c.ds.Lookup(name)
	if !ok {
		return nil, &MissingColumnError{Role: role, Column: name}
	}
	return col, nil
}

// numericColumn is column plus a numeric type check.
func (c *opContext) numericColumn(name, role string) (*dataset.Column, error) {
	col, err := c.column(name, role)
	if err != nil {
		return nil, err
	}
	if col.Type != dataset.TypeNumeric {
		return nil, &TypeMismatchError{Column: col.Name, Want: "numeric", Got: string(col.Type)}
	}
	return col, nil
}

// firstOfType returns the first schema column of type t not in exclude.
func (c *opContext) firstOfType(t schema.DataType, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	for _, col := range c.schema.Columns {
		if col.DataType == t && !skip[col.Name] {
			return col.Name
		}
	}
	return ""
}

// explicitNumeric returns the target columns that are numeric, in target order.
func (c *opContext) explicitNumeric() []string {
	var out []string
	for _, name := range c.plan.TargetColumns {
		if col, ok := c.ds.Lookup(name); ok && col.Type == dataset.TypeNumeric {
			out = append(out, col.Name)
		}
	}
	return out
}

// numericTargets returns the numeric target columns, or every numeric column when no target is numeric.
func (c *opContext) numericTargets() []string {
	if out := c.explicitNumeric(); len(out) > 0 {
		return out
	}
	var out []string
	for _, col := range c.ds.Columns() {
		if col.Type == dataset.TypeNumeric {
			out = append(out, col.Name)
		}
	}
	return out
}

// defaultMeasure returns the first numeric revenue column, or the first numeric column.
func (c *opContext) defaultMeasure() string {
	for _, name := range c.schema.BySemantic(schema.SemRevenue) {
		if col, ok := c.ds.Lookup(name); ok && col.Type == dataset.TypeNumeric {
			return col.Name
		}
	}
	return c.firstOfType(schema.Numeric)
}

// findByKeywords returns the first column (of type t, when t is non-empty) whose
// name contains one of the keywords. Keywords are tried in order.
func (c *opContext) findByKeywords(t schema.DataType, keywords ...string) string {
	for _, kw := range keywords {
		for _, col := range c.schema.Columns {
			if t != "" && col.DataType != t {
				continue
			}
			if schema.NameHasAny(col.Name, kw) {
				return col.Name
			}
		}
	}
	return ""
}

// choose resolves a column role: an explicit parameter wins, then each candidate in turn.
func (c *opContext) choose(role string, paramKeys []string, candidates ...func() string) (*dataset.Column, error) {
	if name, ok := paramString(c.params, paramKeys...); ok {
		return c.column(name, role)
	}
	for _, cand := range candidates {
		if name := cand(); name != "" {
			return c.column(name, role)
		}
	}
	return nil, &MissingColumnError{Role: role}
}

func (c *opContext) target(i int) string {
	if i < len(c.plan.TargetColumns) {
		return c.plan.TargetColumns[i]
	}
	return ""
}

// timeValues converts a column to times, parsing strings with the schema layouts.
func timeValues(col *dataset.Column) ([]time.Time, []bool) {
	ts := make([]time.Time, len(col.Values))
	ok := make([]bool, len(col.Values))
	for i, v := range col.Values {
		switch v.Kind() {
		case dataset.KindTime:
			ts[i], ok[i] = v.TimeVal(), true
		case dataset.KindString:
			ts[i], ok[i] = schema.ParseTime(v.Str())
		}
	}
	return ts, ok
}

// floatsOrZero returns the numeric view with nulls replaced by 0.
func floatsOrZero(col *dataset.Column) []float64 {
	vals, _ := col.Floats()
	return vals
}

func numbersColumn(name string, vals []float64) *dataset.Column {
	vs := make([]dataset.Value, len(vals))
	for i, v := range vals {
		vs[i] = dataset.Number(v)
	}
	return &dataset.Column{Name: name, Type: dataset.TypeNumeric, Values: vs}
}

func stringsColumn(name string, vals []string) *dataset.Column {
	vs := make([]dataset.Value, len(vals))
	for i, v := range vals {
		vs[i] = dataset.String(v)
	}
	return &dataset.Column{Name: name, Type: dataset.TypeText, Values: vs}
}
