package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

func rank(c *opContext) (Result, error) {
	name, ok := paramString(c.params, "column", "sort_by", "by")
	if !ok {
		name = c.target(0)
	}
	if name == "" {
		if nums := c.numericTargets(); len(nums) > 0 {
			name = nums[0]
		}
	}
	if name == "" {
		return Result{}, &MissingColumnError{Role: "numeric column to rank by"}
	}
	col, err := c.numericColumn(name, "ranking column")
	if err != nil {
		return Result{}, err
	}
	n := paramInt(c.params, 10, "n", "limit", "top_n", "count")
	if n <= 0 {
		n = 10
	}
	dir, _ := paramString(c.params, "direction", "order")
	ascending := false
	switch strings.ToLower(dir) {
	case "bottom", "asc", "ascending", "lowest":
		ascending = true
	}

	vals, ok2 := col.Floats()
	idx := make([]int, c.ds.NumRows())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if ok2[ia] != ok2[ib] {
			return ok2[ia] // nulls last in either direction
		}
		if ascending {
			return vals[ia] < vals[ib]
		}
		return vals[ia] > vals[ib]
	})
	if n > len(idx) {
		n = len(idx)
	}
	label := "Top"
	if ascending {
		label = "Bottom"
	}
	return Result{
		Dataset:     c.ds.SelectRows(idx[:n]),
		Description: fmt.Sprintf("%s %d rows by %s", label, n, col.Name),
	}, nil
}

type condition struct {
	op    string
	value any
}

var filterOps = map[string]bool{"==": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true, "contains": true}

func parseCondition(column string, raw any) (condition, error) {
	cond := condition{op: "==", value: raw}
	switch v := raw.(type) {
	case map[string]any:
		op, _ := v["op"].(string)
		if op == "" {
			op, _ = v["operator"].(string)
		}
		cond = condition{op: op, value: v["value"]}
	case []any:
		if len(v) == 2 {
			if op, ok := v[0].(string); ok && filterOps[normalizeOp(op)] {
				cond = condition{op: op, value: v[1]}
			}
		}
	}
	cond.op = normalizeOp(cond.op)
	if !filterOps[cond.op] {
		return cond, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported filter operator %q for column %q", cond.op, column)}
	}
	return cond, nil
}

func normalizeOp(op string) string {
	switch op = strings.ToLower(strings.TrimSpace(op)); op {
	case "=", "eq", "equals", "is":
		return "=="
	case "ne", "<>", "not":
		return "!="
	case "gt":
		return ">"
	case "lt":
		return "<"
	case "gte", "ge":
		return ">="
	case "lte", "le":
		return "<="
	case "like", "includes":
		return "contains"
	}
	return op
}

func condString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func cmpResult(op string, cmp int) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	}
	return false
}

func (cond condition) match(v dataset.Value) bool {
	if v.IsNull() {
		return cond.op == "!=" && cond.value != nil
	}
	if cond.op == "contains" {
		return strings.Contains(strings.ToLower(v.String()), strings.ToLower(condString(cond.value)))
	}
	if cell, ok := v.Float(); ok && v.Kind() == dataset.KindNumber {
		if want, ok := toFloat(cond.value); ok {
			switch {
			case cell < want:
				return cmpResult(cond.op, -1)
			case cell > want:
				return cmpResult(cond.op, 1)
			}
			return cmpResult(cond.op, 0)
		}
	}
	if v.Kind() == dataset.KindTime {
		if want, ok := schema.ParseTime(condString(cond.value)); ok {
			return cmpResult(cond.op, v.TimeVal().Compare(want))
		}
	}
	if v.Kind() == dataset.KindBool {
		if want, ok := cond.value.(bool); ok {
			return cmpResult(cond.op, compareBool(v.BoolVal(), want))
		}
	}
	return cmpResult(cond.op, strings.Compare(v.String(), condString(cond.value)))
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func filterRows(c *opContext) (Result, error) {
	conds := paramMap(c.params, "conditions", "criteria", "filters")
	if len(conds) == 0 {
		return Result{Dataset: c.ds.Clone(), Description: "No filter criteria given; dataset unchanged"}, nil
	}
	names := make([]string, 0, len(conds))
	for k := range conds {
		names = append(names, k)
	}
	sort.Strings(names)

	type bound struct {
		col  *dataset.Column
		cond condition
	}
	var active []bound
	var skipped []string
	for _, name := range names {
		col, ok := c.ds.Lookup(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		cond, err := parseCondition(name, conds[name])
		if err != nil {
			return Result{}, err
		}
		active = append(active, bound{col: col, cond: cond})
	}
	if len(skipped) > 0 {
		c.log.Debug().Strs("columns", skipped).Msg("filter skipped unknown columns")
	}

	var keep []int
	for i := 0; i < c.ds.NumRows(); i++ {
		ok := true
		for _, b := range active {
			if !b.cond.match(b.col.Values[i]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}
	desc := fmt.Sprintf("Filtered to %d of %d rows", len(keep), c.ds.NumRows())
	if len(skipped) > 0 {
		desc += fmt.Sprintf(" (ignored unknown columns: %s)", strings.Join(skipped, ", "))
	}
	return Result{
		Dataset:     c.ds.SelectRows(keep),
		Description: desc,
		Details:     map[string]any{"ignored_columns": skipped, "rows_before": c.ds.NumRows(), "rows_after": len(keep)},
	}, nil
}

var aggFuncs = map[string]bool{"sum": true, "mean": true, "count": true, "min": true, "max": true, "std": true}

func normalizeAgg(fn string) string {
	switch fn = strings.ToLower(strings.TrimSpace(fn)); fn {
	case "avg", "average":
		return "mean"
	case "total":
		return "sum"
	case "stdev", "stddev":
		return "std"
	}
	return fn
}

type aggSpec struct {
	col *dataset.Column
	fn  string
}

// aggregate applies fn to the non-null numeric values at rows.
func aggregate(fn string, col *dataset.Column, rows []int) dataset.Value {
	vals := make([]float64, 0, len(rows))
	nonNull := 0
	for _, i := range rows {
		v := col.Values[i]
		if v.IsNull() {
			continue
		}
		nonNull++
		if f, ok := v.Float(); ok {
			vals = append(vals, f)
		}
	}
	switch fn {
	case "count":
		return dataset.Number(float64(nonNull))
	case "sum":
		var s float64
		for _, v := range vals {
			s += v
		}
		return dataset.Number(s)
	}
	if len(vals) == 0 {
		return dataset.Null()
	}
	switch fn {
	case "mean":
		return dataset.Number(mean(vals))
	case "min", "max":
		out := vals[0]
		for _, v := range vals[1:] {
			if (fn == "min" && v < out) || (fn == "max" && v > out) {
				out = v
			}
		}
		return dataset.Number(out)
	case "std":
		if len(vals) < 2 {
			return dataset.Null()
		}
		return dataset.Number(sampleStd(vals))
	}
	return dataset.Null()
}

// groupRows buckets row indexes by the key columns and returns the buckets in
// ascending key order. Rows with a null key are dropped.
func groupRows(keys []*dataset.Column, n int) ([][]dataset.Value, [][]int) {
	pos := map[string]int{}
	var groupKeys [][]dataset.Value
	var members [][]int
	for i := 0; i < n; i++ {
		var b strings.Builder
		tuple := make([]dataset.Value, len(keys))
		skip := false
		for j, k := range keys {
			v := k.Values[i]
			if v.IsNull() {
				skip = true
				break
			}
			tuple[j] = v
			b.WriteString(v.Key())
			b.WriteByte('\x1f')
		}
		if skip {
			continue
		}
		g, ok := pos[b.String()]
		if !ok {
			g = len(groupKeys)
			pos[b.String()] = g
			groupKeys = append(groupKeys, tuple)
			members = append(members, nil)
		}
		members[g] = append(members[g], i)
	}
	order := make([]int, len(groupKeys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := groupKeys[order[a]], groupKeys[order[b]]
		for j := range ka {
			if c := dataset.Compare(ka[j], kb[j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	sortedKeys := make([][]dataset.Value, len(order))
	sortedMembers := make([][]int, len(order))
	for i, o := range order {
		sortedKeys[i], sortedMembers[i] = groupKeys[o], members[o]
	}
	return sortedKeys, sortedMembers
}

func group(c *opContext) (Result, error) {
	keyNames := paramStrings(c.params, "group_by", "groupby", "by")
	if len(keyNames) == 0 {
		for _, t := range c.plan.TargetColumns {
			if col, ok := c.ds.Lookup(t); ok && col.Type != dataset.TypeNumeric {
				keyNames = append(keyNames, col.Name)
			}
		}
	}
	if len(keyNames) == 0 {
		return Result{}, &MissingColumnError{Role: "group-by column"}
	}
	var keys []*dataset.Column
	isKey := map[string]bool{}
	for _, name := range keyNames {
		col, err := c.column(name, "group-by column")
		if err != nil {
			return Result{}, err
		}
		if !isKey[col.Name] {
			keys = append(keys, col)
			isKey[col.Name] = true
		}
	}

	specs, err := c.aggSpecs(isKey)
	if err != nil {
		return Result{}, err
	}
	groupKeys, members := groupRows(keys, c.ds.NumRows())

	keepNames := paramBool(c.params, "keep_names")
	var cols []*dataset.Column
	for j, k := range keys {
		vals := make([]dataset.Value, len(groupKeys))
		for g := range groupKeys {
			vals[g] = groupKeys[g][j]
		}
		cols = append(cols, &dataset.Column{Name: k.Name, Type: k.Type, Values: vals})
	}
	for _, s := range specs {
		vals := make([]dataset.Value, len(groupKeys))
		for g := range groupKeys {
			vals[g] = aggregate(s.fn, s.col, members[g])
		}
		name := s.col.Name + "_" + s.fn
		if keepNames {
			name = s.col.Name
		}
		cols = append(cols, dataset.NewColumn(name, vals))
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	for i, n := range dataset.UniqueNames(names) {
		cols[i].Name = n
	}
	out, err := dataset.New(cols...)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "grouping", Err: err}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Grouped by %s into %d groups", strings.Join(keyNames, ", "), len(groupKeys)),
	}, nil
}

// aggSpecs reads the aggregations parameter, or defaults to summing every numeric non-key column.
func (c *opContext) aggSpecs(isKey map[string]bool) ([]aggSpec, error) {
	var specs []aggSpec
	if m := paramMap(c.params, "aggregations", "aggregate", "agg"); len(m) > 0 {
		for _, col := range c.ds.Columns() {
			for name, raw := range m {
				if !strings.EqualFold(name, col.Name) {
					continue
				}
				fns := paramStrings(map[string]any{"f": raw}, "f")
				for _, fn := range fns {
					fn = normalizeAgg(fn)
					if !aggFuncs[fn] {
						return nil, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported aggregation %q for column %q", fn, col.Name)}
					}
					if fn != "count" && col.Type != dataset.TypeNumeric {
						return nil, &TypeMismatchError{Column: col.Name, Want: "numeric", Got: string(col.Type)}
					}
					specs = append(specs, aggSpec{col: col, fn: fn})
				}
			}
		}
		for name := range m {
			if _, ok := c.ds.Lookup(name); !ok {
				return nil, &MissingColumnError{Role: "aggregation column", Column: name}
			}
		}
		return specs, nil
	}
	fn := "sum"
	if s, ok := paramString(c.params, "aggregation", "aggfunc", "function"); ok {
		fn = normalizeAgg(s)
		if !aggFuncs[fn] {
			return nil, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported aggregation %q", s)}
		}
	}
	targets := map[string]bool{}
	for _, t := range c.explicitNumeric() {
		targets[t] = true
	}
	for _, col := range c.ds.Columns() {
		if isKey[col.Name] || col.Type != dataset.TypeNumeric {
			continue
		}
		if len(targets) > 0 && !targets[col.Name] {
			continue
		}
		specs = append(specs, aggSpec{col: col, fn: fn})
	}
	if len(specs) == 0 {
		for _, col := range c.ds.Columns() {
			if isKey[col.Name] {
				continue
			}
			specs = append(specs, aggSpec{col: col, fn: "count"})
			break
		}
	}
	return specs, nil
}

func pivot(c *opContext) (Result, error) {
	index, err := c.choose("pivot index column", []string{"index", "rows"},
		func() string { return c.firstOfType(schema.Categorical) })
	if err != nil {
		return Result{}, err
	}
	var across *dataset.Column
	if name, ok := paramString(c.params, "columns", "pivot_columns"); ok {
		if across, err = c.column(name, "pivot columns column"); err != nil {
			return Result{}, err
		}
	}
	valueNames := paramStrings(c.params, "values", "value")
	if len(valueNames) == 0 {
		for _, n := range c.numericTargets() {
			if n != index.Name && (across == nil || n != across.Name) {
				valueNames = append(valueNames, n)
				break
			}
		}
	}
	if len(valueNames) == 0 {
		return Result{}, &MissingColumnError{Role: "numeric values column"}
	}
	var values []*dataset.Column
	for _, n := range valueNames {
		col, err := c.numericColumn(n, "pivot values column")
		if err != nil {
			return Result{}, err
		}
		values = append(values, col)
	}
	fn := "sum"
	if s, ok := paramString(c.params, "aggfunc", "aggregation"); ok {
		fn = normalizeAgg(s)
		if !aggFuncs[fn] {
			return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported aggregation %q", s)}
		}
	}
	fill, hasFill := c.params["fill_value"]
	fillValue := dataset.Null()
	if f, ok := toFloat(fill); hasFill && ok {
		fillValue = dataset.Number(f)
	}

	rowKeys, rowMembers := groupRows([]*dataset.Column{index}, c.ds.NumRows())
	idxVals := make([]dataset.Value, len(rowKeys))
	for i, k := range rowKeys {
		idxVals[i] = k[0]
	}
	cols := []*dataset.Column{{Name: index.Name, Type: index.Type, Values: idxVals}}

	cell := func(col *dataset.Column, rows []int) dataset.Value {
		if len(rows) == 0 {
			return fillValue
		}
		v := aggregate(fn, col, rows)
		if v.IsNull() {
			return fillValue
		}
		return v
	}
	if across == nil {
		for _, vc := range values {
			vals := make([]dataset.Value, len(rowKeys))
			for r := range rowKeys {
				vals[r] = cell(vc, rowMembers[r])
			}
			cols = append(cols, dataset.NewColumn(vc.Name, vals))
		}
	} else {
		colKeys, _ := groupRows([]*dataset.Column{across}, c.ds.NumRows())
		// With several value columns each output column is named <value>_<key>.
		for _, vc := range values {
			for _, ck := range colKeys {
				want := ck[0].Key()
				vals := make([]dataset.Value, len(rowKeys))
				for r, members := range rowMembers {
					var rows []int
					for _, i := range members {
						if across.Values[i].Key() == want {
							rows = append(rows, i)
						}
					}
					vals[r] = cell(vc, rows)
				}
				name := ck[0].String()
				if len(values) > 1 {
					name = vc.Name + "_" + name
				}
				cols = append(cols, dataset.NewColumn(name, vals))
			}
		}
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	for i, n := range dataset.UniqueNames(names) {
		cols[i].Name = n
	}
	out, err := dataset.New(cols...)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "pivoting", Err: err}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Pivoted %s by %s (%s), %d rows x %d columns", strings.Join(valueNames, ", "), index.Name, fn, out.NumRows(), out.NumCols()),
	}, nil
}

func merge(c *opContext) (Result, error) {
	name, ok := paramString(c.params, "right", "table", "with", "lookup")
	if !ok {
		return Result{}, &MissingColumnError{Role: "lookup table"}
	}
	right, ok := c.tables[name]
	if !ok || right == nil {
		return Result{}, &MissingColumnError{Role: "lookup table", Column: name}
	}
	on, ok := paramString(c.params, "on", "key")
	if !ok {
		for _, n := range c.ds.Names() {
			if _, found := right.Column(n); found {
				on = n
				break
			}
		}
	}
	if on == "" {
		return Result{}, &MissingColumnError{Role: "join key shared by both tables"}
	}
	leftKey, err := c.column(on, "join key")
	if err != nil {
		return Result{}, err
	}
	rightKey, ok := right.Lookup(on)
	if !ok {
		return Result{}, &MissingColumnError{Role: "join key in table " + name, Column: on}
	}
	how, _ := paramString(c.params, "how")
	how = strings.ToLower(how)
	if how == "" {
		how = "left"
	}
	if how != "left" && how != "inner" {
		return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("unsupported join type %q (use left or inner)", how)}
	}

	matches := map[string][]int{}
	for i, v := range rightKey.Values {
		if !v.IsNull() {
			matches[v.Key()] = append(matches[v.Key()], i)
		}
	}
	var leftRows, rightRows []int // rightRows[i] == -1 means no match
	for i, v := range leftKey.Values {
		m := matches[v.Key()]
		if v.IsNull() || len(m) == 0 {
			if how == "left" {
				leftRows = append(leftRows, i)
				rightRows = append(rightRows, -1)
			}
			continue
		}
		for _, r := range m {
			leftRows = append(leftRows, i)
			rightRows = append(rightRows, r)
		}
	}

	base := c.ds.SelectRows(leftRows)
	cols := append([]*dataset.Column(nil), base.Columns()...)
	taken := map[string]bool{}
	for _, n := range base.Names() {
		taken[n] = true
	}
	matched := 0
	for _, r := range rightRows {
		if r >= 0 {
			matched++
		}
	}
	for _, rc := range right.Columns() {
		if rc.Name == rightKey.Name {
			continue
		}
		vals := make([]dataset.Value, len(rightRows))
		for k, r := range rightRows {
			if r >= 0 {
				vals[k] = rc.Values[r]
			}
		}
		colName := rc.Name
		if taken[colName] {
			colName += "_right"
		}
		taken[colName] = true
		cols = append(cols, &dataset.Column{Name: colName, Type: rc.Type, Values: vals})
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	for i, n := range dataset.UniqueNames(names) {
		cols[i].Name = n
	}
	out, err := dataset.New(cols...)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "merging", Err: err}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Merged %s on %s (%s join): %d rows, %d matched", name, leftKey.Name, how, out.NumRows(), matched),
	}, nil
}

// dayIndex returns days between t and origin, as a float.
func dayIndex(t, origin time.Time) float64 {
	return t.Sub(origin).Hours() / 24
}
