// Package dataset holds the in-memory tabular model every operation works on.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the logical type of a column as stored.
type Type string

const (
	TypeNumeric  Type = "numeric"
	TypeText     Type = "text"
	TypeDatetime Type = "datetime"
	TypeBoolean  Type = "boolean"
	TypeMixed    Type = "mixed"
	TypeUnknown  Type = "unknown"
)

// Column is a named, ordered sequence of values.
type Column struct {
	Name   string
	Type   Type
	Values []Value
}

// NewColumn builds a column and derives its Type from the non-null values.
func NewColumn(name string, values []Value) *Column {
	return &Column{Name: name, Type: detectType(values), Values: values}
}

func detectType(values []Value) Type {
	var seen ValueKind
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		if seen == KindNull {
			seen = v.Kind()
			continue
		}
		if v.Kind() != seen {
			return TypeMixed
		}
	}
	switch seen {
	case KindNumber:
		return TypeNumeric
	case KindTime:
		return TypeDatetime
	case KindBool:
		return TypeBoolean
	case KindString:
		return TypeText
	}
	return TypeUnknown
}

// Len returns the number of values.
func (c *Column) Len() int { return len(c.Values) }

// NullCount counts null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v.IsNull() {
			n++
		}
	}
	return n
}

// Floats returns the numeric view of the column; ok[i] is false for nulls and non-numbers.
func (c *Column) Floats() (vals []float64, ok []bool) {
	vals = make([]float64, len(c.Values))
	ok = make([]bool, len(c.Values))
	for i, v := range c.Values {
		vals[i], ok[i] = v.Float()
	}
	return vals, ok
}

func (c *Column) clone() *Column {
	vals := make([]Value, len(c.Values))
	copy(vals, c.Values)
	return &Column{Name: c.Name, Type: c.Type, Values: vals}
}

// Dataset is an ordered set of equally long columns with unique names.
type Dataset struct {
	cols  []*Column
	index map[string]int
	rows  int
}

var ErrDuplicateColumn = errors.New("duplicate column name")

// New assembles a dataset. All columns must have the same length and distinct names.
func New(cols ...*Column) (*Dataset, error) {
	d := &Dataset{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if c == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if _, dup := d.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		if i == 0 {
			d.rows = c.Len()
		} else if c.Len() != d.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), d.rows)
		}
		d.index[c.Name] = i
		d.cols = append(d.cols, c)
	}
	return d, nil
}

// MustNew is New for fixtures; it panics on error.
func MustNew(cols ...*Column) *Dataset {
	d, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return d
}

// FromRecords builds a dataset row-wise. Short rows are padded with nulls.
func FromRecords(header []string, rows [][]Value) (*Dataset, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		vals := make([]Value, len(rows))
		for i, r := range rows {
			if j < len(r) {
				vals[i] = r[j]
			}
		}
		cols[j] = NewColumn(name, vals)
	}
	return New(cols...)
}

func (d *Dataset) NumRows() int { return d.rows }
func (d *Dataset) NumCols() int { return len(d.cols) }

// Columns returns the columns in order. Callers must not mutate them.
func (d *Dataset) Columns() []*Column { return d.cols }

// Names returns the column names in order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.cols))
	for i, c := range d.cols {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of a column or -1.
func (d *Dataset) Index(name string) int {
	if i, ok := d.index[name]; ok {
		return i
	}
	return -1
}

// Column looks up a column by exact name.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.cols[i], true
}

// Lookup resolves a column name case-insensitively, preferring an exact match.
func (d *Dataset) Lookup(name string) (*Column, bool) {
	if c, ok := d.Column(name); ok {
		return c, true
	}
	for _, c := range d.cols {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// Row returns a copy of row i.
func (d *Dataset) Row(i int) []Value {
	out := make([]Value, len(d.cols))
	for j, c := range d.cols {
		out[j] = c.Values[i]
	}
	return out
}

// RowKey returns an identity string for row i; identical rows share a key.
func (d *Dataset) RowKey(i int) string {
	var b strings.Builder
	for j, c := range d.cols {
		if j > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(c.Values[i].key())
	}
	return b.String()
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{cols: make([]*Column, len(d.cols)), index: make(map[string]int, len(d.cols)), rows: d.rows}
	for i, c := range d.cols {
		out.cols[i] = c.clone()
		out.index[c.Name] = i
	}
	return out
}

// Equal reports deep equality: same column order, names, types and cell values.
func (d *Dataset) Equal(o *Dataset) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.rows != o.rows || len(d.cols) != len(o.cols) {
		return false
	}
	for j, c := range d.cols {
		oc := o.cols[j]
		if c.Name != oc.Name || c.Type != oc.Type {
			return false
		}
		for i := range c.Values {
			if !c.Values[i].Equal(oc.Values[i]) {
				return false
			}
		}
	}
	return true
}

// SelectRows returns a new dataset with the given rows in the given order.
func (d *Dataset) SelectRows(idx []int) *Dataset {
	out := &Dataset{cols: make([]*Column, len(d.cols)), index: make(map[string]int, len(d.cols)), rows: len(idx)}
	for j, c := range d.cols {
		vals := make([]Value, len(idx))
		for k, i := range idx {
			vals[k] = c.Values[i]
		}
		out.cols[j] = &Column{Name: c.Name, Type: c.Type, Values: vals}
		out.index[c.Name] = j
	}
	return out
}

// WithColumn returns a copy with col appended, or replacing an existing column of the same name in place.
func (d *Dataset) WithColumn(col *Column) (*Dataset, error) {
	if len(d.cols) > 0 && col.Len() != d.rows {
		return nil, fmt.Errorf("column %q has %d rows, want %d", col.Name, col.Len(), d.rows)
	}
	out := d.Clone()
	if i, ok := out.index[col.Name]; ok {
		out.cols[i] = col
		return out, nil
	}
	if len(out.cols) == 0 {
		out.rows = col.Len()
	}
	out.index[col.Name] = len(out.cols)
	out.cols = append(out.cols, col)
	return out, nil
}

// DropColumns returns a copy without the named columns. Unknown names are ignored.
func (d *Dataset) DropColumns(names ...string) *Dataset {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []*Column
	for _, c := range d.cols {
		if !drop[c.Name] {
			keep = append(keep, c.clone())
		}
	}
	out, _ := New(keep...)
	if len(keep) == 0 {
		out.rows = 0
	}
	return out
}

// UniqueNames suffixes repeated names with _1, _2, ... and names blanks column_N.
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			n = fmt.Sprintf("column_%d", i+1)
		}
		cand := n
		for k := 1; used[cand]; k++ {
			cand = fmt.Sprintf("%s_%d", n, k)
		}
		used[cand] = true
		out[i] = cand
	}
	return out
}
