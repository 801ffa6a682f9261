package usecase

import (
	"context"
	"fmt"
	"strings"
)

var suggestionSuffixes = []string{"official", "real", "hq", "app", "online"}

// generateSuggestions proposes available alternatives for an unavailable
// handle. Candidates are filtered back through the validation pipeline; the
// search stops once the suggestion limit is reached or the candidate budget
// is exhausted.
func (s *HandleService) generateSuggestions(ctx context.Context, base string) []string {
	var suggestions []string
	seen := map[string]struct{}{base: {}}
	budget := s.suggestionBudget

	consider := func(candidate string) bool {
		if budget <= 0 || len(suggestions) >= s.suggestionLimit {
			return false
		}
		if _, dup := seen[candidate]; dup {
			return true
		}
		seen[candidate] = struct{}{}
		budget--

		verdict, err := s.evaluate(ctx, candidate)
		if err != nil {
			// Dependency failure: stop searching, return what we have.
			return false
		}
		if verdict.Valid && verdict.Available {
			suggestions = append(suggestions, candidate)
		}
		return len(suggestions) < s.suggestionLimit && budget > 0
	}

	year := s.now().Year()

	for _, candidate := range []string{
		fmt.Sprintf("%s%d", base, year),
		fmt.Sprintf("%s%d", base, year+1),
		fmt.Sprintf("%s%d", base, year%100),
	} {
		if !consider(candidate) {
			return suggestions
		}
	}

	for _, suffix := range suggestionSuffixes {
		if !consider(fmt.Sprintf("%s_%s", base, suffix)) {
			return suggestions
		}
	}

	for _, prefix := range []string{"the", "its", "im"} {
		if !consider(prefix + base) {
			return suggestions
		}
	}

	for n := 1; n <= 20; n++ {
		if !consider(fmt.Sprintf("%s%d", base, n)) {
			return suggestions
		}
	}

	// Truncations as a last resort.
	trimmed := base
	for len(trimmed) > handleMinLength {
		trimmed = strings.TrimRight(trimmed[:len(trimmed)-1], "._-")
		if !consider(trimmed) {
			return suggestions
		}
	}

	return suggestions
}
