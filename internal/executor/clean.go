package executor

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

// Cleaning strategies recorded in CleaningAction.Strategy.
const (
	StrategyDropColumn     = "drop_column"
	StrategyFillMedian     = "fill_median"
	StrategyFillMode       = "fill_mode"
	StrategyDropRows       = "drop_rows"
	StrategyDropDuplicates = "drop_duplicates"
)

// dropColumnNullRatio is the null fraction above which a column is removed.
const dropColumnNullRatio = 0.5

func clean(c *opContext) (Result, error) {
	ds := c.ds
	n := ds.NumRows()
	var actions []CleaningAction
	var dropCols []string
	rowMask := make([]bool, n) // true = drop
	replaced := map[string]*dataset.Column{}

	for _, col := range ds.Columns() {
		nulls := col.NullCount()
		if nulls == 0 || n == 0 {
			continue
		}
		ratio := float64(nulls) / float64(n)
		cs, _ := c.schema.Column(col.Name)
		switch {
		case ratio > dropColumnNullRatio:
			dropCols = append(dropCols, col.Name)
			actions = append(actions, CleaningAction{
				Column: col.Name, Strategy: StrategyDropColumn, Affected: nulls,
				Reason: fmt.Sprintf("%.0f%% of values are missing", ratio*100),
			})
		case col.Type == dataset.TypeNumeric:
			vals, ok := col.Floats()
			var present []float64
			for i, v := range vals {
				if ok[i] {
					present = append(present, v)
				}
			}
			med := median(present)
			filled := make([]dataset.Value, n)
			for i, v := range col.Values {
				if v.IsNull() {
					filled[i] = dataset.Number(med)
				} else {
					filled[i] = v
				}
			}
			replaced[col.Name] = &dataset.Column{Name: col.Name, Type: col.Type, Values: filled}
			actions = append(actions, CleaningAction{
				Column: col.Name, Strategy: StrategyFillMedian, Affected: nulls,
				Reason: fmt.Sprintf("filled %d missing values with median %s", nulls, dataset.Number(med).String()),
			})
		case cs.DataType == schema.Categorical:
			mode := modeOf(col)
			filled := make([]dataset.Value, n)
			for i, v := range col.Values {
				if v.IsNull() {
					filled[i] = mode
				} else {
					filled[i] = v
				}
			}
			replaced[col.Name] = dataset.NewColumn(col.Name, filled)
			actions = append(actions, CleaningAction{
				Column: col.Name, Strategy: StrategyFillMode, Affected: nulls,
				Reason: fmt.Sprintf("filled %d missing values with most frequent value %q", nulls, mode.String()),
			})
		default:
			for i, v := range col.Values {
				if v.IsNull() {
					rowMask[i] = true
				}
			}
			actions = append(actions, CleaningAction{
				Column: col.Name, Strategy: StrategyDropRows, Affected: nulls,
				Reason: fmt.Sprintf("dropped rows with missing %s", col.Name),
			})
		}
	}

	var cols []*dataset.Column
	dropped := map[string]bool{}
	for _, name := range dropCols {
		dropped[name] = true
	}
	for _, col := range ds.Columns() {
		if dropped[col.Name] {
			continue
		}
		if r, ok := replaced[col.Name]; ok {
			cols = append(cols, r)
		} else {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return Result{}, &intent.InvalidPlanError{Reason: "cleaning would remove every column"}
	}
	staged, err := dataset.New(cols...)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "cleaning", Err: err}
	}

	var keep []int
	seen := map[string]bool{}
	dups := 0
	for i := 0; i < n; i++ {
		if rowMask[i] {
			continue
		}
		key := staged.RowKey(i)
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
		keep = append(keep, i)
	}
	if dups > 0 {
		actions = append(actions, CleaningAction{
			Column: "*", Strategy: StrategyDropDuplicates, Affected: dups,
			Reason: fmt.Sprintf("removed %d duplicate rows", dups),
		})
	}
	out := staged.SelectRows(keep)

	desc := "Data is already clean"
	if len(actions) > 0 {
		parts := make([]string, len(actions))
		for i, a := range actions {
			parts[i] = a.Strategy + ":" + a.Column
		}
		desc = fmt.Sprintf("Cleaned data (%d rows -> %d rows): %s", n, out.NumRows(), strings.Join(parts, ", "))
	}
	return Result{Dataset: out, Description: desc, Actions: actions}, nil
}

// modeOf returns the most frequent non-null value; ties go to the value seen first.
func modeOf(col *dataset.Column) dataset.Value {
	counts := map[string]int{}
	first := map[string]int{}
	vals := map[string]dataset.Value{}
	for i, v := range col.Values {
		if v.IsNull() {
			continue
		}
		k := v.Key()
		if _, ok := first[k]; !ok {
			first[k] = i
			vals[k] = v
		}
		counts[k]++
	}
	best := ""
	for k, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && first[k] < first[best]) {
			best = k
		}
	}
	if best == "" {
		return dataset.Null()
	}
	return vals[best]
}

func removeOutliers(c *opContext) (Result, error) {
	method, _ := paramString(c.params, "method")
	method = strings.ToLower(method)
	if method == "" {
		method = "iqr"
	}
	var threshold float64
	switch method {
	case "iqr":
		threshold = paramFloat(c.params, 1.5, "threshold", "multiplier")
	case "zscore", "z-score", "z":
		method = "zscore"
		threshold = paramFloat(c.params, 3.0, "threshold")
	default:
		return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported outlier method %q (use iqr or zscore)", method)}
	}
	targets := c.numericTargets()
	if len(targets) == 0 {
		return Result{}, &MissingColumnError{Role: "numeric column"}
	}

	n := c.ds.NumRows()
	drop := make([]bool, n)
	perColumn := map[string]int{}
	bounds := map[string][2]float64{}
	for _, name := range targets {
		col, err := c.numericColumn(name, "outlier column")
		if err != nil {
			return Result{}, err
		}
		vals, ok := col.Floats()
		var present []float64
		for i, v := range vals {
			if ok[i] {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			continue
		}
		var lo, hi float64
		if method == "iqr" {
			sort.Float64s(present)
			q1, q3 := quantile(present, 0.25), quantile(present, 0.75)
			iqr := q3 - q1
			lo, hi = q1-threshold*iqr, q3+threshold*iqr
		} else {
			m, sd := mean(present), sampleStd(present)
			if math.IsNaN(sd) || sd == 0 {
				continue
			}
			lo, hi = m-threshold*sd, m+threshold*sd
		}
		bounds[col.Name] = [2]float64{lo, hi}
		for i, v := range vals {
			if ok[i] && (v < lo || v > hi) {
				if !drop[i] {
					perColumn[col.Name]++
				}
				drop[i] = true
			}
		}
	}
	var keep []int
	for i := 0; i < n; i++ {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	removed := n - len(keep)
	return Result{
		Dataset:     c.ds.SelectRows(keep),
		Description: fmt.Sprintf("Removed %d outlier rows using %s (threshold %g) on %s", removed, method, threshold, strings.Join(targets, ", ")),
		Details:     map[string]any{"removed": removed, "bounds": bounds, "per_column": perColumn, "method": method},
	}, nil
}
