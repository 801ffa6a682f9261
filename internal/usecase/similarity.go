package usecase

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeHandle lower-cases, trims and strips diacritics so similarity
// comparisons are case- and accent-insensitive.
func normalizeHandle(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	stripped, _, err := transform.String(diacriticStripper, lowered)
	if err != nil {
		return lowered
	}
	return stripped
}

// trigramSet builds the padded trigram set of a normalized handle. Padding
// with boundary markers keeps short handles comparable.
func trigramSet(s string) map[string]struct{} {
	padded := "  " + s + "  "
	grams := make(map[string]struct{}, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		grams[padded[i:i+3]] = struct{}{}
	}
	return grams
}

// trigramSimilarity computes the Jaccard similarity of the two handles'
// trigram sets. Both inputs must already be normalized. Runs in O(n) over the
// combined length.
func trigramSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	setA := trigramSet(a)
	setB := trigramSet(b)

	intersection := 0
	for gram := range setA {
		if _, ok := setB[gram]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// stripDecorations removes digits and separators appended to evade
// protection, so "elonmusk2024" still compares against "elonmusk".
func stripDecorations(s string) string {
	trimmed := strings.TrimRight(s, "0123456789")
	return strings.Trim(trimmed, "._-")
}
