package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/utils"
	"github.com/xuri/excelize/v2"
)

// ExportSheet is the worksheet name used for XLSX exports.
const ExportSheet = "Data"

// Export writes ds to path, choosing the format from the extension. Formatting
// rules are applied to XLSX output and ignored for CSV.
func Export(ds *dataset.Dataset, path string, rules []insight.FormattingRule) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		data, err = EncodeCSV(ds, ',')
	case ".tsv":
		data, err = EncodeCSV(ds, '\t')
	case ".xlsx":
		data, err = EncodeXLSX(ds, rules)
	default:
		return fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, data)
}

// WriteCSV writes ds to path as comma-separated text.
func WriteCSV(ds *dataset.Dataset, path string) error {
	data, err := EncodeCSV(ds, ',')
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, data)
}

// WriteXLSX writes ds to path as a workbook with rules applied.
func WriteXLSX(ds *dataset.Dataset, path string, rules []insight.FormattingRule) error {
	data, err := EncodeXLSX(ds, rules)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, data)
}

// EncodeCSV renders ds with a header row.
func EncodeCSV(ds *dataset.Dataset, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim
	if err := w.Write(ds.Names()); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(ds.Strings()); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeXLSX renders ds as a single-sheet workbook with conditional formats.
func EncodeXLSX(ds *dataset.Dataset, rules []insight.FormattingRule) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]any, ds.NumCols())
	for j, n := range ds.Names() {
		header[j] = n
	}
	if err := f.SetSheetRow(ExportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	cols := ds.Columns()
	for i := 0; i < ds.NumRows(); i++ {
		row := make([]any, len(cols))
		for j, c := range cols {
			v := c.Values[i]
			if v.Kind() == dataset.KindTime {
				row[j] = v.TimeVal()
			} else {
				row[j] = v.Any()
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if ds.NumRows() > 0 {
		for _, r := range rules {
			if err := applyRule(f, ds, r); err != nil {
				return nil, fmt.Errorf("apply %s: %w", r.RuleType, err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

var fillColors = map[string]string{
	"green":  "#C6EFCE",
	"red":    "#FFC7CE",
	"yellow": "#FFEB9C",
	"blue":   "#BDD7EE",
}

func fillFor(color, fallback string) string {
	if color == "" {
		color = fallback
	}
	if hex, ok := fillColors[strings.ToLower(color)]; ok {
		return hex
	}
	if strings.HasPrefix(color, "#") {
		return color
	}
	return fillColors[fallback]
}

// styleCache dedupes conditional fill styles by color.
type styleCache struct{ ids map[string]int }

func (w *styleCache) fill(f *excelize.File, color, fallback string) (*int, error) {
	hex := fillFor(color, fallback)
	if id, ok := w.ids[hex]; ok {
		return &id, nil
	}
	id, err := f.NewConditionalStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{hex}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	w.ids[hex] = id
	return &id, nil
}

// applyRule adds conditional formats for every numeric target column of r.
func applyRule(f *excelize.File, ds *dataset.Dataset, r insight.FormattingRule) error {
	styles := &styleCache{ids: map[string]int{}}
	for _, name := range r.TargetColumns {
		idx := ds.Index(name)
		if idx < 0 || ds.Columns()[idx].Type != dataset.TypeNumeric {
			continue
		}
		letter, err := excelize.ColumnNumberToName(idx + 1)
		if err != nil {
			return err
		}
		ref := fmt.Sprintf("%s2:%s%d", letter, letter, ds.NumRows()+1)
		opts, err := conditionalOptions(f, styles, ds.Columns()[idx], r)
		if err != nil {
			return err
		}
		if len(opts) == 0 {
			continue
		}
		if err := f.SetConditionalFormat(ExportSheet, ref, opts); err != nil {
			return err
		}
	}
	return nil
}

func conditionalOptions(f *excelize.File, styles *styleCache, col *dataset.Column, r insight.FormattingRule) ([]excelize.ConditionalFormatOptions, error) {
	var out []excelize.ConditionalFormatOptions
	rank := func(typ, color, fallback string) error {
		id, err := styles.fill(f, color, fallback)
		if err != nil {
			return err
		}
		out = append(out, excelize.ConditionalFormatOptions{Type: typ, Criteria: "=", Format: id, Value: "1"})
		return nil
	}
	switch r.RuleType {
	case insight.RuleHighlightMax:
		if err := rank("top", r.Color, "green"); err != nil {
			return nil, err
		}
		return out, nil
	case insight.RuleHighlightMin:
		if err := rank("bottom", r.Color, "red"); err != nil {
			return nil, err
		}
		return out, nil
	case insight.RuleHighlightExtremes:
		if err := rank("top", r.MaxColor, "green"); err != nil {
			return nil, err
		}
		if err := rank("bottom", r.MinColor, "red"); err != nil {
			return nil, err
		}
		return out, nil
	case insight.RuleColorScale:
		colors := []string{"#F8696B", "#FFEB84", "#63BE7B"}
		if len(r.Colors) == 3 {
			colors = r.Colors
		}
		out = append(out, excelize.ConditionalFormatOptions{
			Type:     "3_color_scale",
			Criteria: "=",
			MinType:  "min",
			MidType:  "percentile",
			MidValue: "50",
			MaxType:  "max",
			MinColor: colors[0],
			MidColor: colors[1],
			MaxColor: colors[2],
		})
		return out, nil
	case insight.RuleThreshold:
		above, err := styles.fill(f, r.AboveColor, "green")
		if err != nil {
			return nil, err
		}
		below, err := styles.fill(f, r.BelowColor, "red")
		if err != nil {
			return nil, err
		}
		if r.Threshold == "" || r.Threshold == "mean" {
			return append(out,
				excelize.ConditionalFormatOptions{Type: "average", Criteria: "=", AboveAverage: true, Format: above},
				excelize.ConditionalFormatOptions{Type: "average", Criteria: "=", AboveAverage: false, Format: below},
			), nil
		}
		limit, ok := thresholdValue(col, r.Threshold)
		if !ok {
			return nil, fmt.Errorf("invalid threshold %q", r.Threshold)
		}
		v := strconv.FormatFloat(limit, 'f', -1, 64)
		return append(out,
			excelize.ConditionalFormatOptions{Type: "cell", Criteria: ">", Value: v, Format: above},
			excelize.ConditionalFormatOptions{Type: "cell", Criteria: "<", Value: v, Format: below},
		), nil
	}
	return out, nil
}

// thresholdValue resolves "median" or a literal number against col.
func thresholdValue(col *dataset.Column, spec string) (float64, bool) {
	if spec != "median" {
		f, err := strconv.ParseFloat(spec, 64)
		return f, err == nil
	}
	vals, ok := col.Floats()
	var xs []float64
	for i, v := range vals {
		if ok[i] {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return 0, false
	}
	sort.Float64s(xs)
	m := len(xs) / 2
	if len(xs)%2 == 1 {
		return xs[m], true
	}
	return (xs[m-1] + xs[m]) / 2, true
}
