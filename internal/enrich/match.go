package enrich

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Fuzzy classification of free-form intent text into one of the noun
// categories. Matching runs in a fixed order so ties resolve
// deterministically: exact word, fuzzy word (>=60), fuzzy whole text
// (>=50), category noun scan, synonym table, activity keywords, default.

// matchRatio is a 0-100 similarity measure derived from edit distance.
func matchRatio(a, b string) int {
	if a == b {
		return 100
	}
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	score := (total - 2*d) * 100 / total
	if score < 0 {
		return 0
	}
	return score
}

// bestMatch returns the highest-scoring choice at or above the threshold.
func bestMatch(word string, choices []string, threshold int) (string, bool) {
	best, bestScore := "", -1
	for _, choice := range choices {
		if score := matchRatio(word, choice); score > bestScore {
			best, bestScore = choice, score
		}
	}
	if bestScore >= threshold {
		return best, true
	}
	return "", false
}

func sortedCategories() []string {
	out := make([]string, 0, len(intentNouns))
	for name := range intentNouns {
		if name != "default" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// extractIntentCategory resolves free-form intent text to a noun category.
func extractIntentCategory(intent string) string {
	text := strings.ToLower(strings.TrimSpace(intent))
	if text == "" {
		return "default"
	}
	words := strings.Fields(text)
	categories := sortedCategories()

	for _, word := range words {
		if _, ok := intentNouns[word]; ok && word != "default" {
			return word
		}
	}

	for _, word := range words {
		if category, ok := bestMatch(word, categories, 60); ok {
			return category
		}
	}

	if category, ok := bestMatch(text, categories, 50); ok {
		return category
	}

	for _, category := range categories {
		for _, noun := range intentNouns[category] {
			noun = strings.ToLower(noun)
			for _, word := range words {
				if _, ok := bestMatch(word, strings.Fields(noun), 60); ok {
					return category
				}
			}
		}
	}

	for _, word := range words {
		if category, ok := synonymFor(word); ok {
			return category
		}
	}

	for _, word := range words {
		for _, ak := range activityKeywords {
			if strings.Contains(word, ak.keyword) {
				return ak.category
			}
			if _, ok := bestMatch(word, []string{ak.keyword}, 70); ok {
				return ak.category
			}
		}
	}

	return "default"
}

// synonymFor fuzzy-matches a word against the synonym table keys.
func synonymFor(word string) (string, bool) {
	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if key, ok := bestMatch(word, keys, 50); ok {
		return synonyms[key], true
	}
	return "", false
}
