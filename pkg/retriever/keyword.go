package retriever

import "strings"

// stopWords is the small list of function words stripped before
// extracting salient query tokens. It is intentionally short — this
// is a keyword filter meant to prune obviously irrelevant vector
// candidates, not a general-purpose NLP stop-word list.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"of": true, "to": true, "in": true, "on": true, "and": true, "or": true, "with": true,
	"for": true, "at": true, "it": true, "this": true, "that": true, "be": true, "by": true,
	"we": true, "i": true, "my": true, "our": true, "has": true, "have": true, "had": true,
	"as": true, "but": true, "not": true, "can": true, "do": true, "does": true, "did": true,
}

// tokenize lower-cases and splits on anything that isn't a letter or
// digit, so punctuation never leaks into a token.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// salientTokens extracts query tokens of length >= 2 with stop words
// removed, deduplicated.
func salientTokens(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenize(query) {
		if len(tok) < 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// keywordHits counts how many of the given salient tokens appear
// anywhere in text's own token set.
func keywordHits(tokens []string, text string) int {
	present := make(map[string]bool)
	for _, tok := range tokenize(text) {
		present[tok] = true
	}
	hits := 0
	for _, tok := range tokens {
		if present[tok] {
			hits++
		}
	}
	return hits
}

// factCoverage is the fraction of query tokens found anywhere in text.
func factCoverage(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	return float64(keywordHits(tokens, text)) / float64(len(tokens))
}
