package insight

import "strings"

// Rule types understood by the XLSX exporter.
const (
	RuleHighlightMax      = "highlight_max"
	RuleHighlightMin      = "highlight_min"
	RuleColorScale        = "color_scale"
	RuleThreshold         = "threshold"
	RuleHighlightExtremes = "highlight_extremes"
)

// FormattingRule describes conditional formatting over one or more columns.
type FormattingRule struct {
	RuleType      string   `json:"rule_type"`
	TargetColumns []string `json:"target_columns"`
	Color         string   `json:"color,omitempty"`
	Colors        []string `json:"colors,omitempty"`
	Threshold     string   `json:"threshold,omitempty"` // mean|median|<number>
	AboveColor    string   `json:"above_color,omitempty"`
	BelowColor    string   `json:"below_color,omitempty"`
	MaxColor      string   `json:"max_color,omitempty"`
	MinColor      string   `json:"min_color,omitempty"`
	Description   string   `json:"description"`
}

// FormattingRulesFor maps a formatting request to rules over targets.
func FormattingRulesFor(command string, targets []string) []FormattingRule {
	lower := strings.ToLower(command)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	cols := append([]string(nil), targets...)
	var rules []FormattingRule
	if has("highlight") {
		if has("max", "highest", "top", "maximum") {
			rules = append(rules, FormattingRule{RuleType: RuleHighlightMax, TargetColumns: cols, Color: "green", Description: "Highlight maximum values in green"})
		}
		if has("min", "lowest", "bottom", "minimum") {
			rules = append(rules, FormattingRule{RuleType: RuleHighlightMin, TargetColumns: cols, Color: "red", Description: "Highlight minimum values in red"})
		}
	}
	if has("scale", "gradient", "color") {
		rules = append(rules, FormattingRule{RuleType: RuleColorScale, TargetColumns: cols, Colors: []string{"#ff4444", "#ffaa00", "#44ff44"}, Description: "Apply color gradient based on values"})
	}
	if has("threshold", "above", "below") {
		rules = append(rules, FormattingRule{RuleType: RuleThreshold, TargetColumns: cols, Threshold: "mean", AboveColor: "green", BelowColor: "red", Description: "Color values above/below threshold"})
	}
	if len(rules) == 0 {
		rules = append(rules, FormattingRule{RuleType: RuleHighlightExtremes, TargetColumns: cols, MaxColor: "green", MinColor: "red", Description: "Highlight both maximum and minimum values"})
	}
	return rules
}

// CloneRules deep-copies a rule slice.
func CloneRules(in []FormattingRule) []FormattingRule {
	if in == nil {
		return nil
	}
	out := make([]FormattingRule, len(in))
	for i, r := range in {
		r.TargetColumns = append([]string(nil), r.TargetColumns...)
		r.Colors = append([]string(nil), r.Colors...)
		out[i] = r
	}
	return out
}
