// Package lexical finds where in a transcript a paraphrased takeaway was
// discussed by sliding a fixed-size word window over the transcript and
// scoring term overlap, key-term weight, term order and exact two-word
// phrases.
//
// The matcher is purely CPU-bound and deterministic: identical input always
// yields the identical result.
package lexical

import (
	"math"
	"math/bits"

	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/lexicon"
	"github.com/MrWong99/podmark/pkg/types"
)

const (
	// DefaultWindowSize is the number of consecutive words scored at once.
	DefaultWindowSize = 20

	// DefaultSeparation is the minimum distance in seconds between a new
	// anchor and any already-used timestamp.
	DefaultSeparation = 15.0

	// DefaultMinScore is the minimum accuracy score for acceptance.
	DefaultMinScore = 0.6

	// MaxConfidence caps the confidence of any lexical match.
	MaxConfidence = 0.95

	contextPadding = 5
	maxTerms       = 64
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithTermMatcher sets the fuzzy term matcher. Default: [lexicon.NewTermMatcher].
func WithTermMatcher(tm *lexicon.TermMatcher) Option {
	return func(m *Matcher) {
		if tm != nil {
			m.terms = tm
		}
	}
}

// WithSeparation sets the minimum separation in seconds from used
// timestamps. Default: 15.
func WithSeparation(seconds float64) Option {
	return func(m *Matcher) {
		m.separation = seconds
	}
}

// WithMinScore sets the accuracy score a window must reach. Default: 0.6.
func WithMinScore(score float64) Option {
	return func(m *Matcher) {
		m.minScore = score
	}
}

// Matcher is the lexical timestamp matcher. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	terms      *lexicon.TermMatcher
	separation float64
	minScore   float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		terms:      lexicon.NewTermMatcher(),
		separation: DefaultSeparation,
		minScore:   DefaultMinScore,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// windowScore is the evaluation of one candidate window.
type windowScore struct {
	index   int
	score   float64
	conf    float64
	matches int
	keys    int
	seq     int
	phrases int
}

// better reports whether s beats o: higher score, then more key-term
// matches, then more phrase matches. Earlier windows win full ties.
func (s windowScore) better(o windowScore) bool {
	if s.score != o.score {
		return s.score > o.score
	}
	if s.keys != o.keys {
		return s.keys > o.keys
	}
	return s.phrases > o.phrases
}

// FindTimestamp returns the best-scoring window of windowSize words for
// takeaway, or nil when no window clears both the score threshold and the
// match-count floors. Windows whose first word starts within the separation
// distance of any timestamp in used are skipped. A windowSize of zero or
// less selects [DefaultWindowSize].
func (m *Matcher) FindTimestamp(takeaway string, words []types.TimedWord, windowSize int, used []float64) *types.TimestampMatch {
	if len(words) == 0 {
		return nil
	}
	terms := lexicon.SearchTerms(takeaway)
	if len(terms) == 0 {
		return nil
	}
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	windowSize = min(windowSize, len(words))

	var keyMask uint64
	keyCount := 0
	for j, t := range terms {
		if len(t) > 4 {
			keyMask |= 1 << j
			keyCount++
		}
	}
	phrases := phrasePairs(terms)

	tokens := make([]string, len(words))
	masks := make([]uint64, len(words))
	for i, w := range words {
		tokens[i] = lexicon.NormalizeWord(w.Word)
		tok := lexicon.NewToken(tokens[i])
		for j, t := range terms {
			if m.terms.Match(t, tok) {
				masks[i] |= 1 << j
			}
		}
	}

	floor := max(2, int(math.Ceil(0.4*float64(len(terms)))))
	best := windowScore{index: -1}
	for i := 0; i+windowSize <= len(words); i++ {
		if m.nearUsed(words[i].Start, used) {
			continue
		}
		s := scoreWindow(i, i+windowSize, words, tokens, masks, len(terms), keyMask, keyCount, phrases)
		if best.index < 0 || s.better(best) {
			best = s
		}
	}
	if best.index < 0 || best.score < m.minScore {
		return nil
	}
	if best.matches < floor && best.keys < 2 && best.phrases < 2 && (best.matches < 3 || best.seq < 2) {
		return nil
	}

	end := best.index + windowSize
	ctxStart := max(0, best.index-contextPadding)
	ctxEnd := min(len(words), end+contextPadding)
	var ctxMask uint64
	for _, mk := range masks[ctxStart:ctxEnd] {
		ctxMask |= mk
	}

	return &types.TimestampMatch{
		Timestamp:        words[best.index].Start,
		Confidence:       min(best.conf, MaxConfidence),
		Tier:             types.TierLexical,
		MatchedText:      chunk.JoinWords(words[best.index:end]),
		FullContext:      chunk.JoinWords(words[ctxStart:ctxEnd]),
		MatchCount:       best.matches,
		TotalSearchTerms: len(terms),
		AccuracyScore:    best.score,
		ContextQuality:   float64(bits.OnesCount64(ctxMask)) / float64(len(terms)),
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

type phrase struct {
	first, second string
}

// phrasePairs returns each pair of adjacent search terms.
func phrasePairs(terms []string) []phrase {
	if len(terms) < 2 {
		return nil
	}
	out := make([]phrase, 0, len(terms)-1)
	for j := 0; j+1 < len(terms); j++ {
		out = append(out, phrase{terms[j], terms[j+1]})
	}
	return out
}

func scoreWindow(from, to int, words []types.TimedWord, tokens []string, masks []uint64, nTerms int, keyMask uint64, keyCount int, phrases []phrase) windowScore {
	s := windowScore{index: from}

	// Matched terms and the confidence of the first word matching each.
	var seen uint64
	confSum := 0.0
	for i := from; i < to; i++ {
		fresh := masks[i] &^ seen
		if fresh == 0 {
			continue
		}
		seen |= fresh
		confSum += words[i].Confidence * float64(bits.OnesCount64(fresh))
	}
	s.matches = bits.OnesCount64(seen)
	if s.matches == 0 {
		return s
	}
	s.keys = bits.OnesCount64(seen & keyMask)
	s.conf = confSum / float64(s.matches)

	// Terms found in the same relative order as in the takeaway.
	pos := from
	for j := range nTerms {
		bit := uint64(1) << j
		if seen&bit == 0 {
			continue
		}
		for k := pos; k < to; k++ {
			if masks[k]&bit != 0 {
				s.seq++
				pos = k + 1
				break
			}
		}
	}

	for _, p := range phrases {
		if containsPhrase(tokens[from:to], p) {
			s.phrases++
		}
	}

	matchRatio := float64(s.matches) / float64(nTerms)
	keyRatio := matchRatio
	if keyCount > 0 {
		keyRatio = float64(s.keys) / float64(keyCount)
	}
	seqRatio := float64(s.seq) / float64(nTerms)
	raw := 0.4*matchRatio + 0.3*keyRatio + 0.2*seqRatio + 0.1*(float64(s.phrases)/10)
	s.score = raw * s.conf
	return s
}

// containsPhrase reports whether p occurs as two adjacent non-empty tokens.
func containsPhrase(tokens []string, p phrase) bool {
	prev := ""
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if prev == p.first && t == p.second {
			return true
		}
		prev = t
	}
	return false
}
