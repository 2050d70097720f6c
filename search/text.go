package search

import (
	"strings"
	"unicode/utf8"
)

// excerptRunes is how much of a hit's text a formatted response shows.
const excerptRunes = 200

// Stop words to filter out when normalizing queries for statistics
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}，。！？；：“”"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// normalizeQuery folds trivially different spellings of a query together.
// Queries made only of stop words are kept verbatim, lowercased.
func normalizeQuery(query string) string {
	words := tokenizeAndFilter(query)
	if len(words) == 0 {
		return strings.ToLower(strings.TrimSpace(query))
	}
	return strings.Join(words, " ")
}

// excerpt shortens text to excerptRunes runes, marking the cut.
func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptRunes]) + "..."
}
