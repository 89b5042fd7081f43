// Package resolve turns prioritized lists of extraction strategies into field values.
//
// Markup for a logical field (title, score, author) changes across redesigns, A/B tests
// and item types, so every field is declared as an ordered list of strategies rather than
// a single lookup. Resolution never fails: when every strategy comes back empty the caller
// gets the empty value and decides what that means for the record.
package resolve

import (
	"strings"
	"unicode"
)

// Strategy extracts one candidate value for a field from a scope
type Strategy[S any] struct {
	Name    string
	Extract func(S) string
}

// ListStrategy extracts a multi-valued field (tags, flairs) from a scope
type ListStrategy[S any] struct {
	Name    string
	Extract func(S) []string
}

// Resolve evaluates strategies in order and returns the first non-empty value.
// The bool is false when every strategy was exhausted.
func Resolve[S any](scope S, strategies []Strategy[S]) (string, bool) {
	value, idx := first(scope, strategies, isPresent)
	return value, idx >= 0
}

// Which returns the name of the strategy that resolved the field, or "" when exhausted
func Which[S any](scope S, strategies []Strategy[S]) string {
	_, idx := first(scope, strategies, isPresent)
	if idx < 0 {
		return ""
	}
	return strategies[idx].Name
}

// ResolveNumber resolves a counter field. A strategy whose text holds no digits counts as
// empty and resolution moves on; when every strategy is exhausted the counter is 0.
func ResolveNumber[S any](scope S, strategies []Strategy[S]) (int, bool) {
	value, idx := first(scope, strategies, hasDigit)
	if idx < 0 {
		return 0, false
	}
	return ParseCount(value), true
}

// ResolveList returns the values of the first strategy that yields at least one
// non-empty entry, de-duplicated in order of appearance
func ResolveList[S any](scope S, strategies []ListStrategy[S]) []string {
	for _, strategy := range strategies {
		if strategy.Extract == nil {
			continue
		}
		values := OrderedSet(strategy.Extract(scope))
		if len(values) > 0 {
			return values
		}
	}
	return []string{}
}

// OrderedSet trims values, drops empties and keeps the first occurrence of each
func OrderedSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = NormalizeText(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NormalizeText collapses runs of whitespace into single spaces
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func first[S any](scope S, strategies []Strategy[S], accept func(string) bool) (string, int) {
	for i, strategy := range strategies {
		if strategy.Extract == nil {
			continue
		}
		value := NormalizeText(strategy.Extract(scope))
		if accept(value) {
			return value, i
		}
	}
	return "", -1
}

func isPresent(s string) bool {
	return s != ""
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
