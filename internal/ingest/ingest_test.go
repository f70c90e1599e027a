package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSVSniffsDelimiterAndLocale(t *testing.T) {
	in := "Region;Revenue;Date\nWest;1.234,5;2024-01-15\nEast;99,5;2024-02-01\n"
	got, err := ReadCSV(strings.NewReader(in), "eu.csv", DefaultOptions())
	require.NoError(t, err)
	ds := got.Dataset
	assert.Equal(t, []string{"Region", "Revenue", "Date"}, ds.Names())
	rev, _ := ds.Column("Revenue")
	assert.Equal(t, dataset.TypeNumeric, rev.Type)
	assert.InDelta(t, 1234.5, rev.Values[0].Num(), 1e-9)
	assert.InDelta(t, 99.5, rev.Values[1].Num(), 1e-9)
	date, _ := ds.Column("Date")
	assert.Equal(t, dataset.TypeDatetime, date.Type)
	assert.Equal(t, 2024, date.Values[0].TimeVal().Year())
	assert.Equal(t, 1, got.HeaderRow)
}

func TestReadCSVKeepsDatesAsTextWhenDisabled(t *testing.T) {
	in := "Day,Units\n2024-01-15,3\n2024-01-16,4\n"
	got, err := ReadCSV(strings.NewReader(in), "d.csv", Options{})
	require.NoError(t, err)
	day, _ := got.Dataset.Column("Day")
	assert.Equal(t, dataset.TypeText, day.Type)
}

func TestReadCSVDetectsHeaderBelowTitle(t *testing.T) {
	in := "Sales Report,,\n,,\nRegion,Revenue,Active\nWest,10,yes\nEast,$20,no\n"
	got, err := ReadCSV(strings.NewReader(in), "report.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, got.HeaderRow)
	ds := got.Dataset
	require.Equal(t, 2, ds.NumRows())
	assert.Equal(t, []string{"Region", "Revenue", "Active"}, ds.Names())
	rev, _ := ds.Column("Revenue")
	assert.Equal(t, 20.0, rev.Values[1].Num())
	active, _ := ds.Column("Active")
	assert.Equal(t, dataset.TypeBoolean, active.Type)
	assert.True(t, active.Values[0].BoolVal())
}

func TestReadCSVExplicitHeaderRow(t *testing.T) {
	in := "10,20\nA,B\n1,2\n"
	got, err := ReadCSV(strings.NewReader(in), "x.csv", Options{HeaderRow: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Dataset.Names())
	assert.Equal(t, 1, got.Dataset.NumRows())

	_, err = ReadCSV(strings.NewReader(in), "x.csv", Options{HeaderRow: 9})
	assert.Error(t, err)
}

func TestReadCSVColumnCleanup(t *testing.T) {
	in := "A,A,,B\n1,x,,2\n3,,,n/a\n"
	got, err := ReadCSV(strings.NewReader(in), "dup.csv", DefaultOptions())
	require.NoError(t, err)
	ds := got.Dataset
	assert.Equal(t, []string{"A", "A_1", "B"}, ds.Names())
	a, _ := ds.Column("A")
	assert.Equal(t, dataset.TypeNumeric, a.Type)
	a1, _ := ds.Column("A_1")
	assert.True(t, a1.Values[1].IsNull())
	b, _ := ds.Column("B")
	assert.Equal(t, dataset.TypeText, b.Type)
	assert.Equal(t, "n/a", b.Values[1].Str())
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(",,\n,,\n"), "blank.csv", DefaultOptions())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, '\t', sniffDelimiter([]byte("a\tb\tc\n1\t2\t3\n")))
	assert.Equal(t, ';', sniffDelimiter([]byte("a;b\n1;2\n")))
	assert.Equal(t, ',', sniffDelimiter([]byte("single\n")))
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"42", 42, true},
		{"1,234", 1234, true},
		{"1,234.50", 1234.5, true},
		{"1.234,50", 1234.5, true},
		{"(5)", -5, true},
		{"12%", 12, true},
		{"€3,5", 3.5, true},
		{"$1,000", 1000, true},
		{"NaN", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := parseNumeric(c.in, Options{})
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.InDelta(t, c.want, got, 1e-9, c.in)
		}
	}
}

func sample() *dataset.Dataset {
	return dataset.MustNew(
		dataset.NewColumn("Region", []dataset.Value{dataset.String("West"), dataset.String("East"), dataset.String("North")}),
		dataset.NewColumn("Revenue", []dataset.Value{dataset.Number(50), dataset.Number(200.5), dataset.Null()}),
		dataset.NewColumn("Active", []dataset.Value{dataset.Bool(true), dataset.Bool(false), dataset.Bool(true)}),
	)
}

func TestExportXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	rules := []insight.FormattingRule{
		{RuleType: insight.RuleHighlightExtremes, TargetColumns: []string{"Revenue", "Region"}},
		{RuleType: insight.RuleColorScale, TargetColumns: []string{"Revenue"}},
		{RuleType: insight.RuleThreshold, TargetColumns: []string{"Revenue"}, Threshold: "median"},
	}
	require.NoError(t, Export(sample(), path, rules))

	got, err := Load(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, ExportSheet, got.Sheet)
	ds := got.Dataset
	assert.Equal(t, []string{"Region", "Revenue", "Active"}, ds.Names())
	require.Equal(t, 3, ds.NumRows())
	rev, _ := ds.Column("Revenue")
	assert.Equal(t, dataset.TypeNumeric, rev.Type)
	assert.Equal(t, 200.5, rev.Values[1].Num())
	assert.True(t, rev.Values[2].IsNull())
	active, _ := ds.Column("Active")
	assert.Equal(t, dataset.TypeBoolean, active.Type)

	xf, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer xf.Close()
	formats, err := xf.GetConditionalFormats(ExportSheet)
	require.NoError(t, err)
	assert.NotEmpty(t, formats["B2:B4"])
	assert.Empty(t, formats["A2:A4"])
}

func TestExportCSVAndErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, Export(sample(), path, nil))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Region,Revenue,Active\nWest,50,true\nEast,200.5,false\nNorth,,true\n", string(b))

	assert.ErrorIs(t, Export(sample(), filepath.Join(dir, "out.json"), nil), ErrUnsupportedFormat)
	_, err = EncodeXLSX(sample(), []insight.FormattingRule{{RuleType: insight.RuleThreshold, TargetColumns: []string{"Revenue"}, Threshold: "lots"}})
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.json"), []byte("{}"), 0o644))
	_, err = Load(filepath.Join(dir, "in.json"), DefaultOptions())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadXLSXSheetSelection(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Q2")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Q2", "A1", &[]any{"Region", "Units"}))
	require.NoError(t, f.SetSheetRow("Q2", "A2", &[]any{"West", 7}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadXLSX(bytes.NewReader(buf.Bytes()), "book.xlsx", Options{Sheet: "q2"})
	require.NoError(t, err)
	assert.Equal(t, "Q2", got.Sheet)
	units, _ := got.Dataset.Column("Units")
	assert.Equal(t, 7.0, units.Values[0].Num())

	_, err = ReadXLSX(bytes.NewReader(buf.Bytes()), "book.xlsx", Options{Sheet: "Q9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Available sheets")

	_, err = ReadXLSX(bytes.NewReader(buf.Bytes()), "book.xlsx", DefaultOptions())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestWriteHelpers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteCSV(sample(), filepath.Join(dir, "a.csv")))
	require.NoError(t, WriteXLSX(sample(), filepath.Join(dir, "a.xlsx"), nil))
	got, err := Load(filepath.Join(dir, "a.csv"), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, got.Dataset.NumRows())
}
