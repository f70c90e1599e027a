package dataset

// Head returns the first n rows, or the whole dataset when n <= 0 or n >= NumRows.
func (d *Dataset) Head(n int) *Dataset {
	if n <= 0 || n >= d.rows {
		return d
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return d.SelectRows(idx)
}

// Records renders up to limit rows as JSON-friendly maps keyed by column name.
func (d *Dataset) Records(limit int) []map[string]any {
	n := d.rows
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		rec := make(map[string]any, len(d.cols))
		for _, c := range d.cols {
			rec[c.Name] = c.Values[i].Any()
		}
		out[i] = rec
	}
	return out
}

// Strings renders every cell with Value.String, row-major.
func (d *Dataset) Strings() [][]string {
	out := make([][]string, d.rows)
	for i := range out {
		row := make([]string, len(d.cols))
		for j, c := range d.cols {
			row[j] = c.Values[i].String()
		}
		out[i] = row
	}
	return out
}
