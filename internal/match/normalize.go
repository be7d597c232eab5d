// Package match resolves abstract KPI column placeholders to concrete dataset
// columns through layered strategies: exact and fuzzy text similarity,
// embedding-based semantic similarity, and an optional external oracle mapper.
package match

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a raw column name for comparison: underscores and
// hyphens become spaces, punctuation is stripped, camel-case is split when no
// spaces exist, and the result is title-cased with collapsed whitespace.
// Normalize is pure and idempotent.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ':
			b.WriteRune(r)
		}
	}
	s := b.String()

	if !strings.Contains(strings.TrimSpace(s), " ") {
		s = splitCamel(s)
	}

	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = titleWord(f)
	}
	return strings.Join(fields, " ")
}

// NormalizeAll maps Normalize over a column list, preserving order.
func NormalizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Normalize(n)
	}
	return out
}

// splitCamel inserts spaces at case boundaries, so "totalSales" becomes
// "total Sales" and "XMLHttpRequest" becomes "XML Http Request". All-caps
// runs stay together.
func splitCamel(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// titleWord uppercases the first rune and lowercases the rest.
func titleWord(w string) string {
	runes := []rune(w)
	for i, r := range runes {
		if i == 0 {
			runes[i] = unicode.ToUpper(r)
		} else {
			runes[i] = unicode.ToLower(r)
		}
	}
	return string(runes)
}
