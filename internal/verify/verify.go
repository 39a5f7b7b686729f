// Package verify independently checks whether a (takeaway, timestamp) pair
// is plausible by measuring how many of the takeaway's concepts appear in the
// transcript around that timestamp, directly or through a synonym.
package verify

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/lexicon"
	"github.com/MrWong99/podmark/pkg/types"
)

const (
	// DefaultContextWindow is the number of words taken on each side of the
	// anchor word.
	DefaultContextWindow = 30

	// DefaultMinConfidence is the confidence at which a match is valid.
	DefaultMinConfidence = 0.4
)

// Option is a functional option for configuring a [Verifier].
type Option func(*Verifier)

// WithVocabulary sets the synonym table. Default: [lexicon.DefaultVocabulary].
func WithVocabulary(v *lexicon.Vocabulary) Option {
	return func(vf *Verifier) {
		if v != nil {
			vf.vocab = v
		}
	}
}

// WithMinConfidence sets the validity threshold. Default: 0.4.
func WithMinConfidence(c float64) Option {
	return func(vf *Verifier) { vf.minConfidence = c }
}

// Verifier scores concept overlap around a timestamp. Safe for concurrent use.
type Verifier struct {
	vocab         *lexicon.Vocabulary
	minConfidence float64
}

// New returns a [Verifier] configured with opts.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		vocab:         lexicon.DefaultVocabulary(),
		minConfidence: DefaultMinConfidence,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify locates the word closest in time to timestamp, takes contextWindow
// words on either side, and counts the takeaway's concept terms found there.
// A contextWindow of zero or less selects [DefaultContextWindow].
func (v *Verifier) Verify(takeaway string, timestamp float64, words []types.TimedWord, contextWindow int) types.Verification {
	if len(words) == 0 {
		return types.Verification{Reason: "no transcript words"}
	}
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}

	center := closestWord(words, timestamp)
	from := max(0, center-contextWindow)
	to := min(len(words), center+contextWindow+1)
	snippet := chunk.JoinWords(words[from:to])

	terms := lexicon.ConceptTerms(takeaway)
	if len(terms) == 0 {
		return types.Verification{Reason: "takeaway has no concept terms", ContextSnippet: snippet}
	}

	haystack := " " + lexicon.Normalize(snippet) + " "
	direct, conceptual := 0, 0
	for _, term := range terms {
		switch {
		case strings.Contains(haystack, term):
			direct++
		case v.synonymPresent(term, haystack):
			conceptual++
		}
	}

	n := len(terms)
	conf := math.Min(1, (float64(direct)+0.5*float64(conceptual))/float64(n)*1.2)
	valid := conf >= v.minConfidence || (direct >= 2 && n <= 6)
	return types.Verification{
		IsValid:        valid,
		Confidence:     conf,
		Reason:         fmt.Sprintf("%d/%d concepts matched directly, %d via synonyms", direct, n, conceptual),
		ContextSnippet: snippet,
	}
}

func (v *Verifier) synonymPresent(term, haystack string) bool {
	for _, syn := range v.vocab.SynonymsOf(term) {
		if strings.Contains(haystack, " "+syn) {
			return true
		}
	}
	return false
}

// closestWord returns the index of the word whose start is nearest to ts.
func closestWord(words []types.TimedWord, ts float64) int {
	i := sort.Search(len(words), func(i int) bool { return words[i].Start >= ts })
	switch {
	case i == 0:
		return 0
	case i == len(words):
		return len(words) - 1
	case ts-words[i-1].Start <= words[i].Start-ts:
		return i - 1
	default:
		return i
	}
}
