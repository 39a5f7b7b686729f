// Package keyword is the last-resort matcher: a coarse keyword scan over
// overlapping fixed-size word chunks. Its results are deliberately capped at
// low confidence.
package keyword

import (
	"math"
	"strings"

	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/lexicon"
	"github.com/MrWong99/podmark/pkg/types"
)

const (
	// MaxKeywords is the number of takeaway keywords scanned for.
	MaxKeywords = 5

	// ChunkSize is the number of words per scanned chunk.
	ChunkSize = 30

	// Stride is the number of words between consecutive chunk starts.
	Stride = 5

	// DefaultSeparation is the minimum distance in seconds from any used
	// timestamp.
	DefaultSeparation = 10.0

	// MaxConfidence caps every keyword match.
	MaxConfidence = 0.4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithSeparation sets the minimum separation from used timestamps.
func WithSeparation(seconds float64) Option {
	return func(m *Matcher) { m.separation = seconds }
}

// Matcher scans for takeaway keywords. It is stateless and safe for
// concurrent use.
type Matcher struct {
	separation float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{separation: DefaultSeparation}
	for _, o := range opts {
		o(m)
	}
	return m
}

// FindBestKeywordMatch returns the chunk with the highest keyword score, or
// nil when no chunk matches at least 30% of the keywords. Chunks starting
// within the separation distance of a used timestamp are skipped.
func (m *Matcher) FindBestKeywordMatch(takeaway string, words []types.TimedWord, used []float64) *types.TimestampMatch {
	keywords := lexicon.Keywords(takeaway, MaxKeywords)
	if len(keywords) == 0 || len(words) == 0 {
		return nil
	}

	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = lexicon.NormalizeWord(w.Word)
	}

	bestStart, bestEnd, bestMatched := -1, 0, 0
	bestScore := 0.0
	for start := 0; start < len(words); start += Stride {
		end := min(start+ChunkSize, len(words))
		if !m.nearUsed(words[start].Start, used) {
			matched, weight := 0, 0.0
			for _, kw := range keywords {
				if containsKeyword(tokens[start:end], kw) {
					matched++
					weight += float64(len(kw))*0.1 + 1
				}
			}
			score := weight * float64(matched) / float64(len(keywords))
			if score > bestScore {
				bestStart, bestEnd, bestMatched, bestScore = start, end, matched, score
			}
		}
		if end == len(words) {
			break
		}
	}

	required := int(math.Ceil(0.3 * float64(len(keywords))))
	if bestStart < 0 || bestMatched < required {
		return nil
	}

	ratio := float64(bestMatched) / float64(len(keywords))
	text := chunk.JoinWords(words[bestStart:bestEnd])
	return &types.TimestampMatch{
		Timestamp:        words[bestStart].Start,
		Confidence:       min(MaxConfidence, 0.2+0.2*ratio),
		Tier:             types.TierKeyword,
		MatchedText:      text,
		FullContext:      text,
		MatchCount:       bestMatched,
		TotalSearchTerms: len(keywords),
		AccuracyScore:    bestScore,
		ContextQuality:   ratio,
	}
}

func (m *Matcher) nearUsed(start float64, used []float64) bool {
	for _, u := range used {
		if math.Abs(start-u) < m.separation {
			return true
		}
	}
	return false
}

func containsKeyword(tokens []string, kw string) bool {
	for _, t := range tokens {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
