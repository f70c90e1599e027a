// Package insight produces the derived artifacts shown next to a dataset:
// KPI cards, chart suggestions and conditional formatting rules.
package insight

import (
	"fmt"
	"math"

	"github.com/KaramelBytes/sheetloom-cli/internal/dataset"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

// KPI is a single headline metric.
type KPI struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Format string  `json:"format"` // number|currency|decimal
}

// MaxKPIs caps how many cards ComputeKPIs returns.
const MaxKPIs = 6

// ComputeKPIs derives headline metrics from the dataset and its schema.
func ComputeKPIs(ds *dataset.Dataset, s schema.DatasetSchema) []KPI {
	if ds == nil {
		return nil
	}
	kpis := []KPI{{Name: "Total Records", Value: float64(ds.NumRows()), Format: "number"}}

	numeric := s.ByType(schema.Numeric)
	if len(numeric) > 3 {
		numeric = numeric[:3]
	}
	for _, name := range numeric {
		col, ok := ds.Column(name)
		if !ok {
			continue
		}
		sum, mean := sumMean(col)
		cs, _ := s.Column(name)
		switch {
		case cs.SemanticType == schema.SemRevenue || schema.NameHasAny(name, "revenue"):
			kpis = append(kpis,
				KPI{Name: "Total " + name, Value: sum, Format: "currency"},
				KPI{Name: "Average " + name, Value: mean, Format: "currency"},
			)
		case cs.SemanticType == schema.SemQuantity || schema.NameHasAny(name, "quantity"):
			kpis = append(kpis, KPI{Name: "Total " + name, Value: sum, Format: "number"})
		default:
			kpis = append(kpis, KPI{Name: "Sum " + name, Value: sum, Format: "decimal"})
		}
	}

	cats := s.ByType(schema.Categorical)
	if len(cats) > 2 {
		cats = cats[:2]
	}
	for _, name := range cats {
		cs, _ := s.Column(name)
		kpis = append(kpis, KPI{Name: "Unique " + name, Value: float64(cs.UniqueCount), Format: "number"})
	}

	if dates := s.ByType(schema.Datetime); len(dates) > 0 {
		if col, ok := ds.Column(dates[0]); ok {
			if days, ok := dateRangeDays(col); ok {
				kpis = append(kpis, KPI{Name: "Date Range (Days)", Value: days, Format: "number"})
			}
		}
	}

	if len(kpis) > MaxKPIs {
		kpis = kpis[:MaxKPIs]
	}
	return kpis
}

// FormatValue renders a KPI value for display.
func (k KPI) FormatValue() string {
	switch k.Format {
	case "currency":
		return fmt.Sprintf("$%.2f", k.Value)
	case "decimal":
		return fmt.Sprintf("%.2f", k.Value)
	}
	if k.Value == math.Trunc(k.Value) {
		return fmt.Sprintf("%.0f", k.Value)
	}
	return fmt.Sprintf("%.2f", k.Value)
}

func sumMean(col *dataset.Column) (sum, mean float64) {
	n := 0
	for _, v := range col.Values {
		if f, ok := v.Float(); ok {
			sum += f
			n++
		}
	}
	if n > 0 {
		mean = sum / float64(n)
	}
	return sum, mean
}

func dateRangeDays(col *dataset.Column) (float64, bool) {
	var lo, hi dataset.Value
	for _, v := range col.Values {
		if v.Kind() != dataset.KindTime {
			continue
		}
		if lo.IsNull() || dataset.Compare(v, lo) < 0 {
			lo = v
		}
		if hi.IsNull() || dataset.Compare(v, hi) > 0 {
			hi = v
		}
	}
	if lo.IsNull() {
		return 0, false
	}
	return math.Floor(hi.TimeVal().Sub(lo.TimeVal()).Hours() / 24), true
}
