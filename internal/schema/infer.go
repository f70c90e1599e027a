package schema

import (
	"strings"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
)

// Options bounds the work Infer does on large datasets.
type Options struct {
	// SampleRows caps the head rows used for type detection; counts always cover every row.
	SampleRows int
	// DateProbe caps how many non-null sampled strings are test-parsed as dates.
	DateProbe int
	// MaxSamples caps SampleValues per column.
	MaxSamples int
}

// DefaultOptions returns the standard sampling bounds.
func DefaultOptions() Options {
	return Options{SampleRows: 1000, DateProbe: 100, MaxSamples: 5}
}

// Infer describes ds using DefaultOptions. It never fails: a nil dataset yields an empty schema.
func Infer(ds *dataset.Dataset) DatasetSchema {
	return InferWithOptions(ds, DefaultOptions())
}

// InferWithOptions is Infer with explicit sampling bounds.
func InferWithOptions(ds *dataset.Dataset, opt Options) DatasetSchema {
	if ds == nil {
		return DatasetSchema{Columns: []ColumnSchema{}}
	}
	def := DefaultOptions()
	if opt.SampleRows <= 0 {
		opt.SampleRows = def.SampleRows
	}
	if opt.DateProbe <= 0 {
		opt.DateProbe = def.DateProbe
	}
	if opt.MaxSamples <= 0 {
		opt.MaxSamples = def.MaxSamples
	}
	out := DatasetSchema{
		Columns:     make([]ColumnSchema, 0, ds.NumCols()),
		RowCount:    ds.NumRows(),
		ColumnCount: ds.NumCols(),
	}
	for _, col := range ds.Columns() {
		out.Columns = append(out.Columns, inferColumn(col, opt))
	}
	return out
}

func inferColumn(col *dataset.Column, opt Options) ColumnSchema {
	cs := ColumnSchema{Name: col.Name, SampleValues: []string{}}
	distinct := make(map[string]struct{})
	for _, v := range col.Values {
		if v.IsNull() {
			cs.NullCount++
			continue
		}
		distinct[v.Key()] = struct{}{}
		if len(cs.SampleValues) < opt.MaxSamples {
			cs.SampleValues = append(cs.SampleValues, v.String())
		}
	}
	cs.UniqueCount = len(distinct)
	cs.Nullable = cs.NullCount > 0
	cs.DataType = detectDataType(col, cs, opt)
	cs.SemanticType = DetectSemantic(col.Name, cs.DataType)
	return cs
}

func detectDataType(col *dataset.Column, cs ColumnSchema, opt Options) DataType {
	nonNull := len(col.Values) - cs.NullCount
	if nonNull == 0 {
		return Unknown
	}
	switch col.Type {
	case dataset.TypeNumeric:
		return Numeric
	case dataset.TypeDatetime:
		return Datetime
	case dataset.TypeBoolean:
		return Boolean
	}
	if looksLikeDates(col, opt) {
		return Datetime
	}
	ratio := float64(cs.UniqueCount) / float64(nonNull)
	if ratio < 0.05 || cs.UniqueCount < 50 {
		return Categorical
	}
	return Text
}

// looksLikeDates probes the head of a text-like column: every probed value must parse.
func looksLikeDates(col *dataset.Column, opt Options) bool {
	limit := opt.SampleRows
	if limit > len(col.Values) {
		limit = len(col.Values)
	}
	probed := 0
	for _, v := range col.Values[:limit] {
		if v.IsNull() {
			continue
		}
		if probed >= opt.DateProbe {
			break
		}
		probed++
		if v.Kind() == dataset.KindTime {
			continue
		}
		if v.Kind() != dataset.KindString {
			return false
		}
		if _, ok := ParseTime(v.Str()); !ok {
			return false
		}
	}
	return probed > 0
}

var timeLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
	"1/2/2006", "Jan 2, 2006", "2 Jan 2006",
}

// ParseTime tries the supported date layouts. Bare digit strings are rejected so
// that ids and years are not mistaken for dates.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || allDigits(s) {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
