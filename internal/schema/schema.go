// Package schema derives a typed, semantically annotated description of a dataset.
package schema

import "strings"

// DataType is the structural classification of a column.
type DataType string

const (
	Numeric     DataType = "numeric"
	Categorical DataType = "categorical"
	Datetime    DataType = "datetime"
	Text        DataType = "text"
	Boolean     DataType = "boolean"
	Unknown     DataType = "unknown"
)

// SemanticType is a best-effort business meaning for a column.
type SemanticType string

const (
	SemRevenue    SemanticType = "revenue"
	SemQuantity   SemanticType = "quantity"
	SemLocation   SemanticType = "location"
	SemDate       SemanticType = "date"
	SemIdentifier SemanticType = "identifier"
	SemName       SemanticType = "name"
	SemCategory   SemanticType = "category"
	SemPrice      SemanticType = "price"
	SemUnknown    SemanticType = "unknown"
)

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name         string       `json:"name" yaml:"name"`
	DataType     DataType     `json:"data_type" yaml:"data_type"`
	SemanticType SemanticType `json:"semantic_type" yaml:"semantic_type"`
	Nullable     bool         `json:"nullable" yaml:"nullable"`
	UniqueCount  int          `json:"unique_count" yaml:"unique_count"`
	NullCount    int          `json:"null_count" yaml:"null_count"`
	SampleValues []string     `json:"sample_values" yaml:"sample_values"`
}

// DatasetSchema describes a whole dataset. Treat it as immutable; a new
// schema replaces the old one whenever the dataset changes structurally.
type DatasetSchema struct {
	Columns     []ColumnSchema `json:"columns" yaml:"columns"`
	RowCount    int            `json:"row_count" yaml:"row_count"`
	ColumnCount int            `json:"column_count" yaml:"column_count"`
}

// Column returns the schema entry for name, matching case-insensitively when no exact match exists.
func (s DatasetSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// Has reports whether a column resolves.
func (s DatasetSchema) Has(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// Names returns column names in dataset order.
func (s DatasetSchema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// ByType lists the names of columns with the given data type, in order.
func (s DatasetSchema) ByType(t DataType) []string {
	var out []string
	for _, c := range s.Columns {
		if c.DataType == t {
			out = append(out, c.Name)
		}
	}
	return out
}

// BySemantic lists the names of columns with the given semantic type, in order.
func (s DatasetSchema) BySemantic(t SemanticType) []string {
	var out []string
	for _, c := range s.Columns {
		if c.SemanticType == t {
			out = append(out, c.Name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s DatasetSchema) Clone() DatasetSchema {
	out := DatasetSchema{RowCount: s.RowCount, ColumnCount: s.ColumnCount, Columns: make([]ColumnSchema, len(s.Columns))}
	for i, c := range s.Columns {
		c.SampleValues = append([]string(nil), c.SampleValues...)
		out.Columns[i] = c
	}
	return out
}
