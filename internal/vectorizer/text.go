// Package vectorizer turns media item metadata into normalized TF-IDF term
// vectors over a shared vocabulary, and provides the cosine similarity used
// by every retrieval path in the engine.
package vectorizer

import (
	"regexp"
	"strings"

	"github.com/shelfwise/shelfwise/pkg/types"
)

// minTokenLength drops tokens too short to carry signal ("a", "of", "tv").
const minTokenLength = 3

// wordPattern matches runs of letters; tokenization splits on everything else.
var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// stopwords is the fixed set of high-frequency terms excluded from every
// vector. Immutable; injected nowhere, consulted everywhere.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "his": true,
	"has": true, "had": true, "how": true, "man": true, "new": true,
	"now": true, "old": true, "see": true, "two": true, "way": true,
	"who": true, "did": true, "get": true, "him": true, "its": true,
	"let": true, "she": true, "too": true, "use": true, "this": true,
	"that": true, "with": true, "from": true, "they": true, "will": true,
	"would": true, "there": true, "their": true, "what": true, "about": true,
	"which": true, "when": true, "your": true, "said": true, "each": true,
	"them": true, "then": true, "than": true, "some": true, "these": true,
	"were": true, "been": true, "have": true, "more": true, "into": true,
	"also": true, "other": true, "only": true, "most": true, "over": true,
	"such": true, "very": true, "just": true, "where": true, "after": true,
	"before": true, "while": true, "between": true, "because": true,
	"through": true, "during": true, "under": true, "again": true,
	"being": true, "does": true, "doing": true, "should": true, "could": true,
	"here": true, "both": true, "those": true, "same": true, "itself": true,
}

// Tokenize lowercases the text, splits on word boundaries, and discards
// tokens shorter than three characters, non-alphabetic tokens, stopwords,
// and morphological variants via stemming.
func Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < minTokenLength || stopwords[w] {
			continue
		}
		stemmed := stem(w)
		if len(stemmed) < minTokenLength {
			continue
		}
		tokens = append(tokens, stemmed)
	}
	return tokens
}

// stem collapses common English morphological variants to one term by suffix
// stripping. It is deliberately light: it never shortens a word below three
// characters and handles only the suffixes that matter for catalog metadata.
func stem(word string) string {
	switch {
	case strings.HasSuffix(word, "sses"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ness") && len(word) > 6:
		return word[:len(word)-4]
	case strings.HasSuffix(word, "ment") && len(word) > 6:
		return word[:len(word)-4]
	case strings.HasSuffix(word, "ings") && len(word) > 6:
		return word[:len(word)-4]
	case strings.HasSuffix(word, "ing") && len(word) > 5:
		return word[:len(word)-3]
	case strings.HasSuffix(word, "edly") && len(word) > 6:
		return word[:len(word)-4]
	case strings.HasSuffix(word, "ed") && len(word) > 4:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ly") && len(word) > 4:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "es") && len(word) > 4:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && len(word) > 3:
		return word[:len(word)-1]
	}
	return word
}

// fieldRepeats weight metadata fields by repetition prior to IDF: a term in
// the title counts three times, description/creator/genre twice, tags once.
var fieldRepeats = []struct {
	repeat int
	get    func(item *types.MediaItem) string
}{
	{3, func(i *types.MediaItem) string { return i.Title }},
	{2, func(i *types.MediaItem) string { return i.Description }},
	{2, func(i *types.MediaItem) string { return i.Creator }},
	{2, func(i *types.MediaItem) string { return i.Genre }},
	{1, func(i *types.MediaItem) string { return strings.Join(i.Tags, " ") }},
}

// BuildFeatureText concatenates the item's metadata fields with per-field
// repetition, so term frequency reflects field importance before IDF is
// applied. Missing fields are simply omitted.
func BuildFeatureText(item *types.MediaItem) string {
	var parts []string
	for _, f := range fieldRepeats {
		text := strings.TrimSpace(f.get(item))
		if text == "" {
			continue
		}
		for i := 0; i < f.repeat; i++ {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
