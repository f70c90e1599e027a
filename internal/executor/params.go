package executor

import (
	"strconv"
	"strings"
)

// Parameters arrive from JSON, so numbers are float64 and lists are []any.
// These helpers accept the Go-native spellings as well.

func paramString(p map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, true
			}
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok && s != "" {
					return s, true
				}
			}
		case []string:
			if len(v) > 0 && v[0] != "" {
				return v[0], true
			}
		}
	}
	return "", false
}

func paramStrings(p map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		case []string:
			if len(v) > 0 {
				return append([]string(nil), v...)
			}
		case []any:
			var out []string
			for _, x := range v {
				if s, ok := x.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func paramFloat(p map[string]any, def float64, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := toFloat(p[k]); ok {
			return f
		}
	}
	return def
}

func paramInt(p map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		if f, ok := toFloat(p[k]); ok {
			return int(f)
		}
	}
	return def
}

func paramBool(p map[string]any, key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func paramMap(p map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		switch v := p[k].(type) {
		case map[string]any:
			return v
		case map[string]string:
			out := make(map[string]any, len(v))
			for kk, vv := range v {
				out[kk] = vv
			}
			return out
		}
	}
	return nil
}
