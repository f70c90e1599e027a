package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

const headerScanRows = 10

// detectHeader returns the index of the first row that is mostly filled and
// mostly non-numeric. Title rows and notes above the table are skipped.
func detectHeader(rows [][]string, width int, opt Options) int {
	limit := len(rows)
	if limit > headerScanRows {
		limit = headerScanRows
	}
	for i := 0; i < limit; i++ {
		filled, numeric := 0, 0
		for _, c := range rows[i] {
			if c == "" {
				continue
			}
			filled++
			if _, ok := parseNumeric(c, opt); ok {
				numeric++
			}
		}
		if width > 0 && float64(filled)/float64(width) >= 0.5 && numeric*2 < filled {
			return i
		}
	}
	return 0
}

var currencySymbols = []string{"$", "€", "£", "¥", "₹"}

// parseNumeric accepts plain, locale-formatted, percent and currency numbers.
func parseNumeric(s string, opt Options) (float64, bool) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, false
	}
	raw = strings.ReplaceAll(raw, "%", "")
	for _, sym := range currencySymbols {
		raw = strings.ReplaceAll(raw, sym, "")
	}
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(raw)
	neg := false
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		neg = true
		raw = strings.TrimSpace(raw[1 : len(raw)-1])
	}
	if raw == "" {
		return 0, false
	}
	dec := opt.DecimalSeparator
	thou := opt.ThousandsSeparator
	if dec == 0 {
		cpos := strings.LastIndex(raw, ",")
		dpos := strings.LastIndex(raw, ".")
		switch {
		case cpos >= 0 && dpos >= 0:
			if cpos > dpos {
				dec, thou = ',', '.'
			} else {
				dec, thou = '.', ','
			}
		case cpos >= 0 && len(raw)-cpos-1 == 3:
			// 1,234 reads as a thousands group
			dec, thou = '.', ','
		case cpos >= 0:
			dec = ','
		default:
			dec = '.'
		}
	}
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if neg {
		f = -f
	}
	return f, true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

// coerceColumn types a raw column. A conversion applies only when every
// non-empty cell converts; otherwise the cells stay strings.
func coerceColumn(name string, raw []string, opt Options) *dataset.Column {
	n := len(raw)
	nums := make([]dataset.Value, n)
	bools := make([]dataset.Value, n)
	times := make([]dataset.Value, n)
	strs := make([]dataset.Value, n)
	isNum, isBool, isTime := true, true, opt.CoerceDates
	filled := 0
	for i, s := range raw {
		if s == "" {
			continue
		}
		filled++
		strs[i] = dataset.String(s)
		if isNum {
			if f, ok := parseNumeric(s, opt); ok {
				nums[i] = dataset.Number(f)
			} else {
				isNum = false
			}
		}
		if isBool {
			if b, ok := parseBool(s); ok {
				bools[i] = dataset.Bool(b)
			} else {
				isBool = false
			}
		}
		if isTime {
			if t, ok := schema.ParseTime(s); ok {
				times[i] = dataset.Time(t)
			} else {
				isTime = false
			}
		}
	}
	switch {
	case filled == 0:
		return &dataset.Column{Name: name, Type: dataset.TypeUnknown, Values: strs}
	case isNum:
		return &dataset.Column{Name: name, Type: dataset.TypeNumeric, Values: nums}
	case isBool:
		return &dataset.Column{Name: name, Type: dataset.TypeBoolean, Values: bools}
	case isTime:
		return &dataset.Column{Name: name, Type: dataset.TypeDatetime, Values: times}
	}
	return &dataset.Column{Name: name, Type: dataset.TypeText, Values: strs}
}
