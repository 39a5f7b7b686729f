// Package lexicon holds the text primitives shared by every matcher:
// normalisation, stop-word filtering, term extraction, the injectable
// synonym and semantic-group tables, and fuzzy term equivalence.
//
// All functions are pure and safe for concurrent use.
package lexicon

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, drops apostrophes, turns every other
// non-alphanumeric rune into a space and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// Tokenize returns the normalised word tokens of text.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '\'' || r == '’':
			// "don't" -> "dont"
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// NormalizeWord normalises a single transcript token. Multi-token results
// (e.g. "well-known") are joined without a separator.
func NormalizeWord(word string) string {
	return strings.Join(Tokenize(word), "")
}

// SearchTerms returns the distinct, order-preserving content terms of text:
// stop words and terms of two characters or fewer are dropped.
func SearchTerms(text string) []string {
	return filterTerms(Tokenize(text), 3, 0)
}

// KeyTerms returns the subset of terms longer than four characters. They are
// weighted more heavily because longer words discriminate better.
func KeyTerms(terms []string) []string {
	var out []string
	for _, t := range terms {
		if len(t) > 4 {
			out = append(out, t)
		}
	}
	return out
}

// Keywords returns up to max distinct non-stop-word tokens of at least three
// characters. A max of zero means no limit.
func Keywords(text string, max int) []string {
	return filterTerms(Tokenize(text), 3, max)
}

// ConceptTerms returns the distinct non-stop-word tokens longer than three
// characters, the vocabulary used for concept-overlap checks.
func ConceptTerms(text string) []string {
	return filterTerms(Tokenize(text), 4, 0)
}

func filterTerms(tokens []string, minLen, max int) []string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		if len(t) < minLen || IsStopWord(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// Stem strips a handful of common English inflections so that "investing",
// "invested" and "invests" compare equal. It is deliberately crude: the
// result is only used for equality checks, never displayed.
func Stem(word string) string {
	for _, suffix := range []string{"ingly", "ing", "edly", "ed", "ies", "es", "ly", "s"} {
		if strings.HasSuffix(word, suffix) && len(word)-len(suffix) >= 4 {
			stem := strings.TrimSuffix(word, suffix)
			if suffix == "ies" {
				stem += "y"
			}
			return stem
		}
	}
	return word
}
