package executor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/intent"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

var timeMetrics = []string{"YTD", "QTD", "MTD", "YoY", "MoM", "Rolling_3M", "Rolling_6M", "Rolling_12M", "Running_Total"}

var rollingWindows = map[string]int{"Rolling_3M": 90, "Rolling_6M": 180, "Rolling_12M": 365}

func canonicalMetric(s string) (string, bool) {
	n := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(s))
	for _, m := range timeMetrics {
		if strings.EqualFold(m, n) {
			return m, true
		}
	}
	if strings.EqualFold(n, "running") || strings.EqualFold(n, "cumulative") {
		return "Running_Total", true
	}
	return "", false
}

// dateAndValue resolves the date and numeric value columns shared by the time-based operations.
func (c *opContext) dateAndValue() (*dataset.Column, *dataset.Column, error) {
	date, err := c.choose("date column", []string{"date_column", "date"},
		func() string { return c.firstOfType(schema.Datetime) })
	if err != nil {
		return nil, nil, err
	}
	value, err := c.choose("numeric value column", []string{"value_column", "value"},
		func() string {
			if nums := c.explicitNumeric(); len(nums) > 0 {
				return nums[0]
			}
			return ""
		},
		func() string { return c.firstOfType(schema.Numeric) })
	if err != nil {
		return nil, nil, err
	}
	if value.Type != dataset.TypeNumeric {
		return nil, nil, &TypeMismatchError{Column: value.Name, Want: "numeric", Got: string(value.Type)}
	}
	return date, value, nil
}

// parseDates converts a date column, failing when a non-null cell is not a date.
func parseDates(col *dataset.Column) ([]time.Time, []bool, error) {
	ts, ok := timeValues(col)
	for i, v := range col.Values {
		if !v.IsNull() && !ok[i] {
			return nil, nil, &TypeMismatchError{Column: col.Name, Want: "datetime", Got: fmt.Sprintf("value %q", v.String())}
		}
	}
	return ts, ok, nil
}

func timeIntelligence(c *opContext) (Result, error) {
	dateCol, valueCol, err := c.dateAndValue()
	if err != nil {
		return Result{}, err
	}
	metrics := []string{"YTD", "QTD", "MTD"}
	if raw := paramStrings(c.params, "metrics", "metric"); len(raw) > 0 {
		metrics = metrics[:0]
		for _, r := range raw {
			m, ok := canonicalMetric(r)
			if !ok {
				return Result{}, &intent.InvalidPlanError{Reason: fmt.Sprintf("unknown time metric %q (use %s)", r, strings.Join(timeMetrics, ", "))}
			}
			metrics = append(metrics, m)
		}
	}
	ts, ok, err := parseDates(dateCol)
	if err != nil {
		return Result{}, err
	}
	order := make([]int, len(ts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if ok[ia] != ok[ib] {
			return ok[ia]
		}
		return ts[ia].Before(ts[ib])
	})
	out := c.ds.SelectRows(order)
	vals := floatsOrZero(valueCol)
	n := len(order)
	sortedT := make([]time.Time, n)
	sortedOK := make([]bool, n)
	sortedV := make([]float64, n)
	for k, i := range order {
		sortedT[k], sortedOK[k], sortedV[k] = ts[i], ok[i], vals[i]
	}

	part := func(f func(time.Time) int) []dataset.Value {
		vs := make([]dataset.Value, n)
		for k := range vs {
			if sortedOK[k] {
				vs[k] = dataset.Number(float64(f(sortedT[k])))
			}
		}
		return vs
	}
	year := func(t time.Time) int { return t.Year() }
	quarter := func(t time.Time) int { return (int(t.Month())-1)/3 + 1 }
	month := func(t time.Time) int { return int(t.Month()) }
	added := []*dataset.Column{
		{Name: "Year", Type: dataset.TypeNumeric, Values: part(year)},
		{Name: "Quarter", Type: dataset.TypeNumeric, Values: part(quarter)},
		{Name: "Month", Type: dataset.TypeNumeric, Values: part(month)},
	}

	periodCumsum := func(key func(time.Time) string) []dataset.Value {
		acc := map[string]float64{}
		vs := make([]dataset.Value, n)
		for k := range vs {
			if !sortedOK[k] {
				continue
			}
			p := key(sortedT[k])
			acc[p] += sortedV[k]
			vs[k] = dataset.Number(acc[p])
		}
		return vs
	}
	growth := func(key func(time.Time) string, prev func(time.Time) string) []dataset.Value {
		totals := map[string]float64{}
		for k := range sortedT {
			if sortedOK[k] {
				totals[key(sortedT[k])] += sortedV[k]
			}
		}
		vs := make([]dataset.Value, n)
		for k := range vs {
			if !sortedOK[k] {
				continue
			}
			cur, last := totals[key(sortedT[k])], totals[prev(sortedT[k])]
			g := 0.0
			if last > 0 {
				g = (cur - last) / last * 100
			}
			vs[k] = dataset.Number(g)
		}
		return vs
	}
	yearKey := func(t time.Time) string { return fmt.Sprint(t.Year()) }
	monthKey := func(t time.Time) string { return t.Format("2006-01") }

	for _, m := range metrics {
		var col *dataset.Column
		switch m {
		case "YTD":
			col = &dataset.Column{Name: m, Values: periodCumsum(yearKey)}
		case "QTD":
			col = &dataset.Column{Name: m, Values: periodCumsum(func(t time.Time) string { return fmt.Sprintf("%d-Q%d", t.Year(), quarter(t)) })}
		case "MTD":
			col = &dataset.Column{Name: m, Values: periodCumsum(monthKey)}
		case "YoY":
			col = &dataset.Column{Name: "YoY_Growth_%", Values: growth(yearKey, func(t time.Time) string { return fmt.Sprint(t.Year() - 1) })}
		case "MoM":
			col = &dataset.Column{Name: "MoM_Growth_%", Values: growth(monthKey, func(t time.Time) string { return t.AddDate(0, -1, 1-t.Day()).Format("2006-01") })}
		case "Running_Total":
			vs := make([]dataset.Value, n)
			var s float64
			for k := range vs {
				s += sortedV[k]
				vs[k] = dataset.Number(s)
			}
			col = &dataset.Column{Name: m, Values: vs}
		default:
			w := rollingWindows[m]
			vs := make([]dataset.Value, n)
			var s float64
			for k := range vs {
				s += sortedV[k]
				if k >= w {
					s -= sortedV[k-w]
				}
				vs[k] = dataset.Number(s)
			}
			col = &dataset.Column{Name: m, Values: vs}
		}
		col.Type = dataset.TypeNumeric
		added = append(added, col)
	}
	for _, col := range added {
		if out, err = out.WithColumn(col); err != nil {
			return Result{}, &ExecutionFailureError{Op: "time_intelligence", Err: err}
		}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Added %s for %s over %s", strings.Join(metrics, ", "), valueCol.Name, dateCol.Name),
		Details:     map[string]any{"date_column": dateCol.Name, "value_column": valueCol.Name, "metrics": metrics},
	}, nil
}

func forecast(c *opContext) (Result, error) {
	dateCol, valueCol, err := c.dateAndValue()
	if err != nil {
		return Result{}, err
	}
	periods := paramInt(c.params, 30, "periods", "periods_ahead", "horizon")
	if periods <= 0 {
		periods = 30
	}
	ts, ok, err := parseDates(dateCol)
	if err != nil {
		return Result{}, err
	}
	vals, vok := valueCol.Floats()
	var dates []time.Time
	var ys []float64
	for i := range ts {
		if ok[i] && vok[i] {
			dates = append(dates, ts[i])
			ys = append(ys, vals[i])
		}
	}
	if len(dates) < 2 {
		return Result{}, &ExecutionFailureError{Op: "forecasting", Err: fmt.Errorf("need at least 2 rows with both %s and %s", dateCol.Name, valueCol.Name)}
	}
	origin, last := dates[0], dates[0]
	for _, d := range dates {
		if d.Before(origin) {
			origin = d
		}
		if d.After(last) {
			last = d
		}
	}
	xs := make([]float64, len(dates))
	for i, d := range dates {
		xs[i] = dayIndex(d, origin)
	}
	coef, err := olsFit([][]float64{xs}, ys)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "forecasting", Err: fmt.Errorf("all %s values fall on one date: %w", dateCol.Name, err)}
	}
	fitted := make([]float64, len(xs))
	for i, x := range xs {
		fitted[i] = coef[0] + coef[1]*x
	}
	r2 := rSquared(ys, fitted)

	future := make([]dataset.Value, periods)
	preds := make([]float64, periods)
	lastX := dayIndex(last, origin)
	for i := 1; i <= periods; i++ {
		future[i-1] = dataset.Time(last.AddDate(0, 0, i))
		preds[i-1] = coef[0] + coef[1]*(lastX+float64(i))
	}
	out, err := dataset.New(
		&dataset.Column{Name: dateCol.Name, Type: dataset.TypeDatetime, Values: future},
		numbersColumn("Forecasted_"+valueCol.Name, preds),
	)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "forecasting", Err: err}
	}
	trend := "increasing"
	if coef[1] < 0 {
		trend = "decreasing"
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Forecast %d days of %s (trend %s, R² %.3f)", periods, valueCol.Name, trend, r2),
		Details:     map[string]any{"r_squared": r2, "slope_per_day": coef[1], "intercept": coef[0], "trend": trend},
	}, nil
}

// CorrelationPair is a notable pairwise correlation.
type CorrelationPair struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	R        float64 `json:"r"`
	Strength string  `json:"strength"`
}

func correlate(c *opContext) (Result, error) {
	names := c.numericTargets()
	if len(names) == 1 {
		// A single named column is correlated against every other numeric column.
		for _, col := range c.ds.Columns() {
			if col.Type == dataset.TypeNumeric && col.Name != names[0] {
				names = append(names, col.Name)
			}
		}
	}
	if len(names) < 2 {
		return Result{}, &MissingColumnError{Role: "second numeric column for correlation"}
	}
	vals := make([][]float64, len(names))
	oks := make([][]bool, len(names))
	for i, n := range names {
		col, err := c.numericColumn(n, "correlation column")
		if err != nil {
			return Result{}, err
		}
		vals[i], oks[i] = col.Floats()
	}
	k := len(names)
	matrix := make([][]float64, k)
	for i := range matrix {
		matrix[i] = make([]float64, k)
		for j := range matrix[i] {
			if i == j {
				matrix[i][j] = 1
				continue
			}
			if j < i {
				matrix[i][j] = matrix[j][i]
				continue
			}
			matrix[i][j] = pearson(vals[i], vals[j], oks[i], oks[j])
		}
	}
	cols := []*dataset.Column{stringsColumn("Variable", names)}
	for j, n := range names {
		vs := make([]dataset.Value, k)
		for i := range vs {
			if !math.IsNaN(matrix[i][j]) {
				vs[i] = dataset.Number(round(matrix[i][j], 4))
			}
		}
		cols = append(cols, &dataset.Column{Name: n, Type: dataset.TypeNumeric, Values: vs})
	}
	out, err := dataset.New(cols...)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "correlation", Err: err}
	}
	var pairs []CorrelationPair
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			r := matrix[i][j]
			if math.IsNaN(r) || math.Abs(r) <= 0.5 {
				continue
			}
			strength := "Moderate"
			if math.Abs(r) > 0.7 {
				strength = "Strong"
			}
			pairs = append(pairs, CorrelationPair{A: names[i], B: names[j], R: round(r, 4), Strength: strength})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return math.Abs(pairs[a].R) > math.Abs(pairs[b].R) })
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Correlation matrix for %d columns; %d notable pair(s)", k, len(pairs)),
		Details:     map[string]any{"pairs": pairs},
	}, nil
}

// Coefficient is one fitted regression weight.
type Coefficient struct {
	Predictor   string  `json:"predictor"`
	Coefficient float64 `json:"coefficient"`
}

const maxPredictors = 5

func regress(c *opContext) (Result, error) {
	targetName, ok := paramString(c.params, "target", "y", "dependent")
	if !ok {
		targetName = c.target(0)
	}
	if targetName == "" {
		targetName = c.defaultMeasure()
	}
	if targetName == "" {
		return Result{}, &MissingColumnError{Role: "regression target column"}
	}
	target, err := c.numericColumn(targetName, "regression target column")
	if err != nil {
		return Result{}, err
	}
	predNames := paramStrings(c.params, "predictors", "features", "x")
	if len(predNames) == 0 {
		for _, col := range c.ds.Columns() {
			if col.Name != target.Name && col.Type == dataset.TypeNumeric {
				predNames = append(predNames, col.Name)
			}
		}
		if len(predNames) > maxPredictors {
			predNames = predNames[:maxPredictors]
		}
	}
	if len(predNames) == 0 {
		return Result{}, &MissingColumnError{Role: "numeric predictor column"}
	}
	xs := make([][]float64, len(predNames))
	for i, n := range predNames {
		col, err := c.numericColumn(n, "predictor column")
		if err != nil {
			return Result{}, err
		}
		predNames[i] = col.Name
		xs[i] = floatsOrZero(col)
	}
	y := floatsOrZero(target)
	if len(y) <= len(predNames) {
		return Result{}, &ExecutionFailureError{Op: "regression", Err: fmt.Errorf("need more than %d rows for %d predictors", len(predNames), len(predNames))}
	}
	coef, err := olsFit(xs, y)
	if err != nil {
		if errors.Is(err, errSingular) {
			return Result{}, &ExecutionFailureError{Op: "regression", Err: err}
		}
		return Result{}, err
	}
	pred := make([]float64, len(y))
	resid := make([]float64, len(y))
	for i := range y {
		p := coef[0]
		for j := range xs {
			p += coef[j+1] * xs[j][i]
		}
		pred[i], resid[i] = p, y[i]-p
	}
	r2 := rSquared(y, pred)
	out, err := c.ds.WithColumn(numbersColumn("Predicted_"+target.Name, pred))
	if err == nil {
		out, err = out.WithColumn(numbersColumn("Residual", resid))
	}
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "regression", Err: err}
	}
	coefs := make([]Coefficient, len(predNames))
	for i, n := range predNames {
		coefs[i] = Coefficient{Predictor: n, Coefficient: coef[i+1]}
	}
	sort.SliceStable(coefs, func(a, b int) bool { return math.Abs(coefs[a].Coefficient) > math.Abs(coefs[b].Coefficient) })
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Regressed %s on %s (R² %.3f)", target.Name, strings.Join(predNames, ", "), r2),
		Details:     map[string]any{"target": target.Name, "r_squared": r2, "intercept": coef[0], "coefficients": coefs},
	}, nil
}

func (c *opContext) customerColumn(role string) (*dataset.Column, error) {
	return c.choose(role, []string{"customer_column", "customer"},
		func() string { return c.findByKeywords("", "customer", "user") },
		func() string {
			if ids := c.schema.BySemantic(schema.SemIdentifier); len(ids) > 0 {
				return ids[0]
			}
			return ""
		})
}

func monthNumber(t time.Time) int { return t.Year()*12 + int(t.Month()) - 1 }

func cohort(c *opContext) (Result, error) {
	customer, err := c.customerColumn("customer column")
	if err != nil {
		return Result{}, err
	}
	date, err := c.choose("date column", []string{"date_column", "date"},
		func() string { return c.firstOfType(schema.Datetime) })
	if err != nil {
		return Result{}, err
	}
	if _, err := c.choose("numeric value column", []string{"value_column", "value"},
		func() string { return c.firstOfType(schema.Numeric, customer.Name) }); err != nil {
		return Result{}, err
	}
	ts, ok, err := parseDates(date)
	if err != nil {
		return Result{}, err
	}
	first := map[string]int{}
	for i, v := range customer.Values {
		if v.IsNull() || !ok[i] {
			continue
		}
		m := monthNumber(ts[i])
		if f, seen := first[v.Key()]; !seen || m < f {
			first[v.Key()] = m
		}
	}
	type cell struct{ group, index int }
	members := map[cell]map[string]bool{}
	for i, v := range customer.Values {
		if v.IsNull() || !ok[i] {
			continue
		}
		g := first[v.Key()]
		k := cell{g, monthNumber(ts[i]) - g}
		if members[k] == nil {
			members[k] = map[string]bool{}
		}
		members[k][v.Key()] = true
	}
	keys := make([]cell, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].group != keys[b].group {
			return keys[a].group < keys[b].group
		}
		return keys[a].index < keys[b].index
	})
	groups := make([]string, len(keys))
	index := make([]float64, len(keys))
	counts := make([]float64, len(keys))
	cohorts := map[int]bool{}
	for i, k := range keys {
		groups[i] = fmt.Sprintf("%04d-%02d", k.group/12, k.group%12+1)
		index[i] = float64(k.index)
		counts[i] = float64(len(members[k]))
		cohorts[k.group] = true
	}
	out, err := dataset.New(stringsColumn("CohortGroup", groups), numbersColumn("CohortIndex", index), numbersColumn("Customers", counts))
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "cohort", Err: err}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("Cohort analysis of %d customers across %d monthly cohorts", len(first), len(cohorts)),
		Details:     map[string]any{"customers": len(first), "cohorts": len(cohorts), "customer_column": customer.Name, "date_column": date.Name},
	}, nil
}

// quintileScores assigns 1..5 by ascending rank; ties keep first-appearance order.
func quintileScores(vals []float64) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })
	out := make([]int, len(vals))
	for pos, i := range idx {
		out[i] = pos*5/len(vals) + 1
	}
	return out
}

func rfmSegment(r, f, m int) string {
	switch {
	case r >= 4 && f >= 4 && m >= 4:
		return "Champions"
	case r >= 3 && f >= 3:
		return "Loyal Customers"
	case r >= 4:
		return "Potential Loyalists"
	case m >= 4:
		return "Big Spenders"
	case r <= 2:
		return "At Risk"
	}
	return "Needs Attention"
}

func rfm(c *opContext) (Result, error) {
	customer, err := c.customerColumn("customer column")
	if err != nil {
		return Result{}, err
	}
	date, err := c.choose("date column", []string{"date_column", "date"},
		func() string { return c.firstOfType(schema.Datetime) })
	if err != nil {
		return Result{}, err
	}
	value, err := c.choose("numeric value column", []string{"value_column", "value"},
		func() string { return c.findByKeywords(schema.Numeric, "amount", "revenue", "sales") },
		func() string { return c.firstOfType(schema.Numeric, customer.Name) })
	if err != nil {
		return Result{}, err
	}
	if value.Type != dataset.TypeNumeric {
		return Result{}, &TypeMismatchError{Column: value.Name, Want: "numeric", Got: string(value.Type)}
	}
	ts, ok, err := parseDates(date)
	if err != nil {
		return Result{}, err
	}
	amounts := floatsOrZero(value)

	type agg struct {
		id    dataset.Value
		last  time.Time
		count int
		sum   float64
	}
	pos := map[string]int{}
	var custs []*agg
	var ref time.Time
	for i, v := range customer.Values {
		if v.IsNull() || !ok[i] {
			continue
		}
		if ts[i].After(ref) {
			ref = ts[i]
		}
		p, seen := pos[v.Key()]
		if !seen {
			p = len(custs)
			pos[v.Key()] = p
			custs = append(custs, &agg{id: v, last: ts[i]})
		}
		a := custs[p]
		if ts[i].After(a.last) {
			a.last = ts[i]
		}
		a.count++
		a.sum += amounts[i]
	}
	if len(custs) == 0 {
		return Result{}, &ExecutionFailureError{Op: "rfm", Err: fmt.Errorf("no rows with both %s and %s", customer.Name, date.Name)}
	}
	n := len(custs)
	recency := make([]float64, n)
	freq := make([]float64, n)
	monetary := make([]float64, n)
	ids := make([]dataset.Value, n)
	for i, a := range custs {
		ids[i] = a.id
		recency[i] = math.Floor(ref.Sub(a.last).Hours() / 24)
		freq[i] = float64(a.count)
		monetary[i] = a.sum
	}
	rs := quintileScores(recency)
	for i := range rs {
		rs[i] = 6 - rs[i] // more recent scores higher
	}
	fs, ms := quintileScores(freq), quintileScores(monetary)

	rScore := make([]float64, n)
	fScore := make([]float64, n)
	mScore := make([]float64, n)
	codes := make([]string, n)
	segments := make([]string, n)
	segmentCounts := map[string]int{}
	for i := 0; i < n; i++ {
		rScore[i], fScore[i], mScore[i] = float64(rs[i]), float64(fs[i]), float64(ms[i])
		codes[i] = fmt.Sprintf("%d%d%d", rs[i], fs[i], ms[i])
		segments[i] = rfmSegment(rs[i], fs[i], ms[i])
		segmentCounts[segments[i]]++
	}
	out, err := dataset.New(
		dataset.NewColumn(customer.Name, ids),
		numbersColumn("Recency", recency),
		numbersColumn("Frequency", freq),
		numbersColumn("Monetary", monetary),
		numbersColumn("R_Score", rScore),
		numbersColumn("F_Score", fScore),
		numbersColumn("M_Score", mScore),
		stringsColumn("RFM_Score", codes),
		stringsColumn("Segment", segments),
	)
	if err != nil {
		return Result{}, &ExecutionFailureError{Op: "rfm", Err: err}
	}
	return Result{
		Dataset:     out,
		Description: fmt.Sprintf("RFM analysis of %d customers into %d segments", n, len(segmentCounts)),
		Details:     map[string]any{"segments": segmentCounts, "reference_date": ref.Format("2006-01-02"), "value_column": value.Name},
	}, nil
}
