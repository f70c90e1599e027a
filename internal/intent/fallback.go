package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
)

// FallbackConfidence is the fixed confidence of keyword-resolved plans.
const FallbackConfidence = 0.5

type keywordRule struct {
	kind   OperationKind
	visual bool
	words  []string
}

// First match wins, so order matters.
var fallbackRules = []keywordRule{
	{kind: KindCleaning, words: []string{"clean", "fix", "quality"}},
	{kind: KindRanking, words: []string{"top", "highest", "bottom", "lowest"}},
	{kind: KindGrouping, words: []string{"group", "sum by", "aggregate"}},
	{kind: KindUnknown, visual: true, words: []string{"chart", "plot", "visualize"}},
	{kind: KindOutlierRemoval, words: []string{"outlier"}},
	{kind: KindForecasting, words: []string{"forecast", "predict"}},
	{kind: KindClustering, words: []string{"cluster", "segment"}},
	{kind: KindAnomalyDetection, words: []string{"anomal"}},
	{kind: KindCorrelation, words: []string{"correlat"}},
	{kind: KindRegression, words: []string{"regress"}},
	{kind: KindCohort, words: []string{"cohort"}},
	{kind: KindRFM, words: []string{"rfm"}},
	{kind: KindPivoting, words: []string{"pivot"}},
	{kind: KindTimeIntelligence, words: []string{"ytd", "mtd", "qtd", "yoy", "rolling", "running total"}},
	{kind: KindConditionalFormatting, words: []string{"highlight", "color", "format"}},
	{kind: KindFiltering, words: []string{"filter", "where"}},
}

var firstInt = regexp.MustCompile(`\d+`)

// Fallback resolves a command with a keyword scan and column-name matching.
// It never fails; unmatched commands yield KindUnknown.
func Fallback(command string, s schema.DatasetSchema) OperationPlan {
	lower := strings.ToLower(command)
	plan := OperationPlan{
		UserIntent: command,
		Kind:       KindUnknown,
		Parameters: map[string]any{},
		Confidence: FallbackConfidence,
		Source:     SourceFallback,
		Rationale:  "fallback: no keyword matched",
	}
	matched := ""
	for _, rule := range fallbackRules {
		if w, ok := firstWord(lower, rule.words); ok {
			plan.Kind, matched = rule.kind, w
			if rule.visual {
				plan.Parameters["visualization"] = true
				plan.Parameters["hint"] = "visualization"
			}
			break
		}
	}
	if matched != "" {
		plan.Rationale = fmt.Sprintf("fallback: matched keyword %q", matched)
	}
	plan.TargetColumns = mentionedColumns(lower, s)

	switch plan.Kind {
	case KindRanking:
		if strings.Contains(lower, "bottom") || strings.Contains(lower, "lowest") {
			plan.Parameters["direction"] = "bottom"
		} else {
			plan.Parameters["direction"] = "top"
		}
		if m := firstInt.FindString(lower); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n > 0 {
				plan.Parameters["n"] = n
			}
		}
		for _, name := range plan.TargetColumns {
			if c, _ := s.Column(name); c.DataType == schema.Numeric {
				plan.Parameters["column"] = name
				break
			}
		}
	case KindGrouping:
		if len(plan.TargetColumns) > 0 {
			plan.Parameters["group_by"] = append([]string(nil), plan.TargetColumns...)
		}
	case KindFiltering:
		if conds := parseConditions(command, plan.TargetColumns); len(conds) > 0 {
			plan.Parameters["conditions"] = conds
		}
	}
	return plan
}

func firstWord(lower string, words []string) (string, bool) {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}

// mentionedColumns returns schema columns whose name occurs in the command, in schema order.
func mentionedColumns(lower string, s schema.DatasetSchema) []string {
	var out []string
	for _, c := range s.Columns {
		n := strings.ToLower(strings.TrimSpace(c.Name))
		if n != "" && strings.Contains(lower, n) {
			out = append(out, c.Name)
		}
	}
	return out
}

var condOps = []struct {
	word string
	op   string
}{
	{">=", ">="}, {"<=", "<="}, {"!=", "!="}, {"==", "=="}, {"=", "=="}, {">", ">"}, {"<", "<"},
	{" is not ", "!="}, {" is ", "=="}, {" contains ", "contains"}, {" above ", ">"}, {" below ", "<"},
}

// parseConditions reads "<column> <op> <value>" fragments for the mentioned columns,
// e.g. "where region is West and revenue > 100".
func parseConditions(command string, columns []string) map[string]any {
	out := map[string]any{}
	lower := strings.ToLower(command)
	if len(lower) != len(command) {
		return out
	}
	for _, col := range columns {
		at := strings.Index(lower, strings.ToLower(col))
		if at < 0 {
			continue
		}
		trimmed := strings.TrimLeft(command[at+len(col):], " ")
		for _, o := range condOps {
			src := trimmed
			if o.word[0] == ' ' {
				src = " " + trimmed
			}
			if !strings.HasPrefix(strings.ToLower(src), o.word) {
				continue
			}
			val := firstToken(src[len(o.word):])
			if val == "" {
				break
			}
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				out[col] = map[string]any{"op": o.op, "value": f}
			} else {
				out[col] = map[string]any{"op": o.op, "value": val}
			}
			break
		}
	}
	return out
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'") {
		q := s[:1]
		if end := strings.Index(s[1:], q); end >= 0 {
			return s[1 : end+1]
		}
	}
	if i := strings.IndexAny(s, " ,;"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, ".!?")
}
