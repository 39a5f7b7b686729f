package lexicon

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultFuzzyThreshold    = 0.90
	defaultPhoneticThreshold = 0.85
	defaultFuzzyMinLen       = 5
)

// TermOption is a functional option for configuring a [TermMatcher].
type TermOption func(*TermMatcher)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score at which two words
// are considered equivalent without phonetic agreement. Default: 0.90.
func WithFuzzyThreshold(threshold float64) TermOption {
	return func(m *TermMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for words whose
// Double Metaphone codes overlap. Default: 0.85.
func WithPhoneticThreshold(threshold float64) TermOption {
	return func(m *TermMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyMinLength sets the minimum length both words must have before any
// fuzzy comparison is attempted. Shorter words only match exactly. Default: 5.
func WithFuzzyMinLength(n int) TermOption {
	return func(m *TermMatcher) {
		m.minLen = n
	}
}

// TermMatcher decides whether a takeaway term and a transcript word refer to
// the same thing. Speech-to-text output misspells and inflects words, and
// takeaways paraphrase, so equality alone misses most real matches.
//
// The comparison proceeds in order:
//
//  1. Exact equality.
//  2. Containment: the word contains the term (terms of four or more
//     characters only, so "art" does not match "start").
//  3. Phonetic agreement: Double Metaphone codes overlap and Jaro-Winkler
//     similarity reaches the phonetic threshold.
//  4. Pure Jaro-Winkler similarity at the higher fuzzy threshold.
//
// TermMatcher is read-only after construction and safe for concurrent use.
type TermMatcher struct {
	fuzzyThreshold    float64
	phoneticThreshold float64
	minLen            int
}

// NewTermMatcher returns a [TermMatcher] configured with opts.
func NewTermMatcher(opts ...TermOption) *TermMatcher {
	m := &TermMatcher{
		fuzzyThreshold:    defaultFuzzyThreshold,
		phoneticThreshold: defaultPhoneticThreshold,
		minLen:            defaultFuzzyMinLen,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Token is a normalised transcript word with its phonetic codes precomputed.
// Matching a term against many tokens is the hot path of every matcher, so
// the encoding is done once per word rather than once per comparison.
type Token struct {
	Text      string
	primary   string
	secondary string
}

// NewToken prepares word for repeated matching. word should already be
// normalised (see [NormalizeWord]).
func NewToken(word string) Token {
	t := Token{Text: word}
	if len(word) >= defaultFuzzyMinLen {
		t.primary, t.secondary = matchr.DoubleMetaphone(word)
	}
	return t
}

// Match reports whether term and the prepared token tok are equivalent.
func (m *TermMatcher) Match(term string, tok Token) bool {
	word := tok.Text
	if word == "" || term == "" {
		return false
	}
	if word == term {
		return true
	}
	if len(term) >= 4 && strings.Contains(word, term) {
		return true
	}
	if len(term) < m.minLen || len(word) < m.minLen {
		return false
	}
	jw := matchr.JaroWinkler(term, word, false)
	if jw >= m.fuzzyThreshold {
		return true
	}
	if jw < m.phoneticThreshold {
		return false
	}
	tp, ts := matchr.DoubleMetaphone(term)
	return codesOverlap(tp, ts, tok.primary, tok.secondary)
}

// MatchWord is a convenience wrapper around [TermMatcher.Match] for one-off
// comparisons.
func (m *TermMatcher) MatchWord(term, word string) bool {
	return m.Match(term, NewToken(word))
}

func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || a == bs {
			return true
		}
	}
	return false
}
