package schema

import "strings"

type semanticRule struct {
	typ      SemanticType
	keywords []string
}

// Precedence matters: the first rule whose keyword occurs in the name wins.
var semanticRules = []semanticRule{
	{SemRevenue, []string{"revenue", "sales", "amount", "total", "price", "cost", "value"}},
	{SemQuantity, []string{"quantity", "qty", "count", "number", "units", "volume"}},
	{SemLocation, []string{"city", "country", "region", "state", "location", "address", "area"}},
	{SemDate, []string{"date", "time", "day", "month", "year", "timestamp", "created", "updated"}},
	{SemIdentifier, []string{"id", "key", "code", "identifier", "uuid", "guid"}},
	{SemName, []string{"name", "title", "label", "description", "desc"}},
	{SemCategory, []string{"category", "type", "class", "group", "segment", "status"}},
}

// DetectSemantic classifies a column name. Numeric price/cost columns fall back to
// price when no earlier rule matched.
func DetectSemantic(name string, dt DataType) SemanticType {
	lower := strings.ToLower(name)
	for _, r := range semanticRules {
		if containsAny(lower, r.keywords) {
			return r.typ
		}
	}
	if dt == Numeric && containsAny(lower, []string{"price", "cost"}) {
		return SemPrice
	}
	return SemUnknown
}

// NameHasAny reports whether the lowercase column name contains any keyword.
func NameHasAny(name string, keywords ...string) bool {
	return containsAny(strings.ToLower(name), keywords)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
