// Package ingest turns CSV and XLSX files into typed datasets and writes them back out.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/xuri/excelize/v2"
)

// Options controls how a file is read.
type Options struct {
	// Sheet selects an XLSX sheet by name; empty means the first sheet.
	Sheet string
	// Delimiter for CSV. If 0, sniffs among ',', ';', '\t'.
	Delimiter rune
	// HeaderRow is the 1-based header row; 0 detects it among the first rows.
	HeaderRow int
	// Numeric parsing locale. If DecimalSeparator is 0, auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune
	// CoerceDates converts string columns that fully parse as dates to time values.
	CoerceDates bool
}

// DefaultOptions returns the standard reading behavior.
func DefaultOptions() Options {
	return Options{CoerceDates: true}
}

// Loaded is a parsed file.
type Loaded struct {
	Dataset    *dataset.Dataset
	SourceName string
	// HeaderRow is the 1-based source row the column names came from.
	HeaderRow int
	// Sheet is the XLSX sheet read; empty for CSV.
	Sheet string
}

// ErrUnsupportedFormat is returned for extensions other than csv, tsv, txt and xlsx.
var ErrUnsupportedFormat = errors.New("unsupported file format (use .csv, .tsv or .xlsx)")

// ErrEmpty is returned when a file has no non-empty rows.
var ErrEmpty = errors.New("no data rows found")

// Load reads path according to its extension.
func Load(path string, opt Options) (*Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path), opt)
}

// Read parses r, choosing the format from name's extension.
func Read(r io.Reader, name string, opt Options) (*Loaded, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSV(r, name, opt)
	case ".tsv":
		if opt.Delimiter == 0 {
			opt.Delimiter = '\t'
		}
		return ReadCSV(r, name, opt)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, name, opt)
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
}

// ReadCSV parses delimited text from r. name is recorded as the source name.
func ReadCSV(r io.Reader, name string, opt Options) (*Loaded, error) {
	br := bufio.NewReader(r)
	delim := opt.Delimiter
	if delim == 0 {
		head, _ := br.Peek(8192)
		delim = sniffDelimiter(head)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	cr.Comma = delim
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", name, err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return build(rows, name, "", opt)
}

// ReadXLSX parses a workbook from r, reading opt.Sheet or the first sheet.
func ReadXLSX(r io.Reader, name string, opt Options) (*Loaded, error) {
	xf, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx %s: %w", name, err)
	}
	defer func() {
		_ = xf.Close()
	}()
	sheets := xf.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in %s", name)
	}
	sheet := sheets[0]
	if opt.Sheet != "" {
		sheet = ""
		for _, s := range sheets {
			if strings.EqualFold(s, opt.Sheet) {
				sheet = s
				break
			}
		}
		if sheet == "" {
			return nil, fmt.Errorf("sheet '%s' not found in workbook '%s'.\nAvailable sheets: %s", opt.Sheet, name, strings.Join(sheets, ", "))
		}
	}
	rows, err := xf.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return build(rows, name, sheet, opt)
}

// sniffDelimiter picks the candidate that appears most consistently in the first lines.
func sniffDelimiter(head []byte) rune {
	lines := bytes.Split(head, []byte("\n"))
	if len(lines) > 5 {
		lines = lines[:5]
	}
	best, bestScore := ',', 0
	for _, cand := range []rune{',', ';', '\t'} {
		score := 0
		for _, l := range lines {
			score += bytes.Count(l, []byte(string(cand)))
		}
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

func build(rows [][]string, name, sheet string, opt Options) (*Loaded, error) {
	type srcRow struct {
		line  int
		cells []string
	}
	var kept []srcRow
	width := 0
	for i, r := range rows {
		empty := true
		for j := range r {
			r[j] = strings.TrimSpace(r[j])
			if r[j] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		kept = append(kept, srcRow{line: i + 1, cells: r})
		if len(r) > width {
			width = len(r)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	for i := range kept {
		if len(kept[i].cells) < width {
			padded := make([]string, width)
			copy(padded, kept[i].cells)
			kept[i].cells = padded
		}
	}

	hdr := 0
	if opt.HeaderRow > 0 {
		hdr = -1
		for i, r := range kept {
			if r.line == opt.HeaderRow {
				hdr = i
				break
			}
		}
		if hdr < 0 {
			return nil, fmt.Errorf("header row %d is empty or out of range", opt.HeaderRow)
		}
	} else {
		cells := make([][]string, len(kept))
		for i, r := range kept {
			cells[i] = r.cells
		}
		hdr = detectHeader(cells, width, opt)
	}
	header := kept[hdr].cells
	data := kept[hdr+1:]

	var keepCols []int
	for j := 0; j < width; j++ {
		used := header[j] != ""
		for _, r := range data {
			if used {
				break
			}
			used = r.cells[j] != ""
		}
		if used {
			keepCols = append(keepCols, j)
		}
	}
	names := make([]string, len(keepCols))
	for k, j := range keepCols {
		names[k] = header[j]
	}
	names = dataset.UniqueNames(names)

	cols := make([]*dataset.Column, len(keepCols))
	raw := make([]string, len(data))
	for k, j := range keepCols {
		for i, r := range data {
			raw[i] = r.cells[j]
		}
		cols[k] = coerceColumn(names[k], raw, opt)
	}
	ds, err := dataset.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("build dataset from %s: %w", name, err)
	}
	return &Loaded{Dataset: ds, SourceName: name, HeaderRow: kept[hdr].line, Sheet: sheet}, nil
}
