// Package knowledge stores investigation context for retrieval: tokenized
// entries in fixed namespaces, adaptive document chunking, and weighted
// Jaccard search with recency boost.
package knowledge

import "strings"

// stopWords are dropped during tokenization. Short fixed list; the corpus
// is operational text, not prose.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {},
}

// Tokenize lowercases, strips everything but letters, digits and dashes,
// and drops single-character tokens and stop words. Applied once at insert
// and once per query.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if len(tok) <= 1 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// termFrequencies counts token occurrences.
func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	return freq
}

// weightedJaccard computes |min-freq intersection| / |max-freq union| over
// two term-frequency maps.
func weightedJaccard(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	union := 0
	for tok, fa := range a {
		if fb, ok := b[tok]; ok {
			if fa < fb {
				intersection += fa
				union += fb
			} else {
				intersection += fb
				union += fa
			}
		} else {
			union += fa
		}
	}
	for tok, fb := range b {
		if _, ok := a[tok]; !ok {
			union += fb
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
