package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ExtractStringValues flattens context.user_input and tool_args into the
// searchable-values sequence used by contains_any, not_contains, and
// matches_regex. Containers are traversed recursively; numbers and
// booleans are stringified; structural characters (braces, keys, quotes)
// never appear in the output, only leaf values do. Map keys are visited
// in sorted order so extraction is deterministic.
func ExtractStringValues(userInput string, toolArgs map[string]any) []string {
	var out []string
	if userInput != "" {
		out = append(out, userInput)
	}
	out = append(out, flattenMap(toolArgs)...)
	return out
}

// SearchableText space-joins ExtractStringValues for matches_regex, which
// operates on a single concatenated string rather than a sequence.
func SearchableText(userInput string, toolArgs map[string]any) string {
	return strings.Join(ExtractStringValues(userInput, toolArgs), " ")
}

func flattenMap(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		out = append(out, flattenValue(m[k])...)
	}
	return out
}

func flattenValue(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case bool:
		return []string{fmt.Sprintf("%t", val)}
	case float64:
		return []string{formatNumber(val)}
	case int:
		return []string{fmt.Sprintf("%d", val)}
	case map[string]any:
		return flattenMap(val)
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, flattenValue(item)...)
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// comparatorKeys are the six recognized tool_args_match operator keys.
// Their presence (as opposed to a bare literal) disambiguates an operator
// object from a literal map value; a third form is never introduced.
var comparatorKeys = map[string]bool{
	"gt": true, "gte": true, "lt": true, "lte": true, "eq": true, "neq": true,
}

// MatchToolArgsField evaluates a single {field: expected} pair from
// tool_args_match against the actual value present in tool_args. expected
// is either a literal (compared with strict equality) or a map containing
// one or more of gt/gte/lt/lte/eq/neq (combined with AND).
func MatchToolArgsField(actual any, expected any) bool {
	if ops, ok := expected.(map[string]any); ok && isComparatorObject(ops) {
		for op, want := range ops {
			if !comparatorKeys[op] {
				continue
			}
			if !applyComparator(op, actual, want) {
				return false
			}
		}
		return true
	}
	return literalEqual(actual, expected)
}

func isComparatorObject(m map[string]any) bool {
	for k := range m {
		if comparatorKeys[k] {
			return true
		}
	}
	return false
}

func applyComparator(op string, actual, want any) bool {
	switch op {
	case "eq":
		return literalEqual(actual, want)
	case "neq":
		return !literalEqual(actual, want)
	case "gt", "gte", "lt", "lte":
		a, aok := asNumber(actual)
		w, wok := asNumber(want)
		if !aok || !wok {
			return false
		}
		switch op {
		case "gt":
			return a > w
		case "gte":
			return a >= w
		case "lt":
			return a < w
		case "lte":
			return a <= w
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func literalEqual(a, b any) bool {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		return an == bn
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
