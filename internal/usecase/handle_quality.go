package usecase

import (
	"fmt"
	"strings"
)

// Recognized dictionary words that make a handle feel deliberate rather than
// keyboard noise. Seeded from the most common signup vocabulary.
var commonHandleWords = []string{
	"official", "real", "the", "media", "tech", "dev", "pro", "art",
	"music", "games", "gamer", "studio", "labs", "shop", "world", "daily",
	"news", "life", "team", "club", "star", "king", "queen", "magic",
}

const (
	qualityBase = 50

	maxConsonantRun = 3
)

// scoreQuality computes a composite quality score for a normalized handle,
// clamped to [0,100], plus any pronounceability warnings. The score is a pure
// function of the handle and never affects availability.
func scoreQuality(handle string) (int, []string) {
	var warnings []string
	score := qualityBase

	// Length sweet spot.
	length := len(handle)
	switch {
	case length >= 6 && length <= 12:
		score += 20
	case length >= 3 && length < 6, length > 12 && length <= 20:
		score += 10
	}

	letters, digits, specials := 0, 0, 0
	vowels := 0
	consonantRun, worstRun := 0, 0
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
			if strings.ContainsRune("aeiou", r) {
				vowels++
				consonantRun = 0
			} else {
				consonantRun++
				if consonantRun > worstRun {
					worstRun = consonantRun
				}
			}
		case r >= '0' && r <= '9':
			digits++
			consonantRun = 0
		default:
			specials++
			consonantRun = 0
		}
	}

	// Letter to digit balance: all-letter handles read best, digit-heavy
	// handles look generated.
	total := letters + digits
	switch {
	case total == 0:
	case digits == 0:
		score += 10
	case float64(digits)/float64(total) <= 0.3:
		score += 5
	case float64(digits)/float64(total) > 0.5:
		score -= 10
	}

	// Vowel distribution as a pronounceability heuristic.
	if letters > 0 {
		ratio := float64(vowels) / float64(letters)
		if ratio >= 0.25 && ratio <= 0.6 {
			score += 10
		}
	}
	if worstRun > maxConsonantRun {
		score -= 5
		warnings = append(warnings, fmt.Sprintf("contains a run of %d consonants and may be hard to pronounce", worstRun))
	}

	// Special-character density.
	switch specials {
	case 0:
		score += 10
	case 1:
		score += 5
	default:
		score -= 5 * (specials - 1)
	}

	// Recognized common-word bonus.
	for _, word := range commonHandleWords {
		if strings.Contains(handle, word) {
			score += 5
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, warnings
}
