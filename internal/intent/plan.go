// Package intent turns a natural-language command into an OperationPlan.
package intent

import "strings"

// OperationKind is the closed set of operations the executor understands.
type OperationKind string

const (
	KindRanking               OperationKind = "ranking"
	KindFiltering             OperationKind = "filtering"
	KindGrouping              OperationKind = "grouping"
	KindPivoting              OperationKind = "pivoting"
	KindMerging               OperationKind = "merging"
	KindCleaning              OperationKind = "cleaning"
	KindOutlierRemoval        OperationKind = "outlier_removal"
	KindForecasting           OperationKind = "forecasting"
	KindClustering            OperationKind = "clustering"
	KindAnomalyDetection      OperationKind = "anomaly_detection"
	KindCorrelation           OperationKind = "correlation"
	KindRegression            OperationKind = "regression"
	KindCohort                OperationKind = "cohort"
	KindRFM                   OperationKind = "rfm"
	KindTimeIntelligence      OperationKind = "time_intelligence"
	KindConditionalFormatting OperationKind = "conditional_formatting"
	KindUnknown               OperationKind = "unknown"
)

var allKinds = []OperationKind{
	KindRanking, KindFiltering, KindGrouping, KindPivoting, KindMerging, KindCleaning,
	KindOutlierRemoval, KindForecasting, KindClustering, KindAnomalyDetection, KindCorrelation,
	KindRegression, KindCohort, KindRFM, KindTimeIntelligence, KindConditionalFormatting, KindUnknown,
}

var kindAliases = map[string]OperationKind{
	"pivot":           KindPivoting,
	"pivot_table":     KindPivoting,
	"merge":           KindMerging,
	"join":            KindMerging,
	"lookup":          KindMerging,
	"outliers":        KindOutlierRemoval,
	"outlier":         KindOutlierRemoval,
	"formatting":      KindConditionalFormatting,
	"format":          KindConditionalFormatting,
	"filter":          KindFiltering,
	"sort":            KindRanking,
	"rank":            KindRanking,
	"top_n":           KindRanking,
	"group":           KindGrouping,
	"group_by":        KindGrouping,
	"aggregate":       KindGrouping,
	"aggregation":     KindGrouping,
	"clean":           KindCleaning,
	"data_cleaning":   KindCleaning,
	"forecast":        KindForecasting,
	"cluster":         KindClustering,
	"segmentation":    KindClustering,
	"anomaly":         KindAnomalyDetection,
	"anomalies":       KindAnomalyDetection,
	"correlate":       KindCorrelation,
	"cohort_analysis": KindCohort,
	"rfm_analysis":    KindRFM,
	"time_series":     KindTimeIntelligence,
}

// visualKinds are intent labels that ask for a chart rather than a transform.
var visualKinds = map[string]bool{
	"visualization": true,
	"visualize":     true,
	"chart":         true,
	"plot":          true,
	"dashboard":     true,
}

// Kinds lists every operation kind, unknown last.
func Kinds() []OperationKind { return append([]OperationKind(nil), allKinds...) }

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// ParseKind maps a free-form label to an OperationKind; anything unrecognized is KindUnknown.
func ParseKind(s string) OperationKind {
	n := normalizeLabel(s)
	for _, k := range allKinds {
		if string(k) == n {
			return k
		}
	}
	if k, ok := kindAliases[n]; ok {
		return k
	}
	return KindUnknown
}

// IsVisualLabel reports whether a label names a chart request.
func IsVisualLabel(s string) bool { return visualKinds[normalizeLabel(s)] }

// Analytic reports whether the kind produces an analysis result rather than reshaping the data.
func (k OperationKind) Analytic() bool {
	switch k {
	case KindForecasting, KindClustering, KindAnomalyDetection, KindCorrelation, KindRegression,
		KindCohort, KindRFM, KindTimeIntelligence:
		return true
	}
	return false
}

// Source records where a plan came from.
type Source string

const (
	SourceCapability Source = "capability"
	SourceFallback   Source = "fallback"
)

// OperationPlan is the resolved form of one user command.
type OperationPlan struct {
	UserIntent    string         `json:"user_intent"`
	Kind          OperationKind  `json:"operation_kind"`
	TargetColumns []string       `json:"target_columns"`
	Parameters    map[string]any `json:"parameters"`
	Confidence    float64        `json:"confidence"`
	Rationale     string         `json:"rationale"`
	Source        Source         `json:"source"`
}

// Param returns a parameter by key.
func (p OperationPlan) Param(key string) (any, bool) {
	v, ok := p.Parameters[key]
	return v, ok
}

// Visualization reports whether the plan asks for a chart.
func (p OperationPlan) Visualization() bool {
	v, _ := p.Parameters["visualization"].(bool)
	return v
}
