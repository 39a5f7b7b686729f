// Package semantic locates a takeaway in a transcript by embedding similarity.
//
// The takeaway is embedded inside a short fixed template that pushes its
// vector toward "insight" semantics, transcript chunks are embedded lazily in
// one batch, and the most similar chunk is accepted only if a blend of cosine
// similarity, topic relevance and raw word overlap clears a threshold. The
// anchor is then refined to the chunk word that best matches the takeaway's
// key terms.
package semantic

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/podmark/internal/lexicon"
	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
	"github.com/MrWong99/podmark/pkg/types"
)

const (
	// DefaultMinSimilarity is the cosine similarity the best chunk must reach
	// before the auxiliary scores are computed.
	DefaultMinSimilarity = 0.58

	// DefaultMinAdjusted is the blended score required for acceptance.
	DefaultMinAdjusted = 0.55

	// DefaultTemplate wraps the takeaway before embedding. %s receives the
	// takeaway with trailing punctuation removed.
	DefaultTemplate = "Key insight: %s. This is an important takeaway from a podcast discussion."

	anchorTerms = 5
)

// Match is an accepted semantic match.
type Match struct {
	// ChunkID identifies the winning chunk.
	ChunkID string

	// Similarity is the raw cosine similarity with the winning chunk.
	Similarity float64

	// TopicRelevance is the fraction of key terms the chunk covers directly,
	// by synonym, or through a shared semantic group.
	TopicRelevance float64

	// WordOverlap is the fraction of the takeaway's content terms present in
	// the chunk.
	WordOverlap float64

	// Anchored reports whether the timestamp was refined to a specific word
	// rather than the chunk midpoint.
	Anchored bool

	types.TimestampMatch
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithVocabulary sets the synonym and semantic-group tables used for topic
// relevance. Default: [lexicon.DefaultVocabulary].
func WithVocabulary(v *lexicon.Vocabulary) Option {
	return func(m *Matcher) {
		if v != nil {
			m.vocab = v
		}
	}
}

// WithTermMatcher sets the fuzzy term matcher. Default: [lexicon.NewTermMatcher].
func WithTermMatcher(tm *lexicon.TermMatcher) Option {
	return func(m *Matcher) {
		if tm != nil {
			m.terms = tm
		}
	}
}

// WithThresholds overrides the similarity gate and the acceptance threshold.
func WithThresholds(minSimilarity, minAdjusted float64) Option {
	return func(m *Matcher) {
		m.minSimilarity = minSimilarity
		m.minAdjusted = minAdjusted
	}
}

// WithTemplate sets the fmt template applied to takeaways before embedding.
// It must contain exactly one %s verb.
func WithTemplate(tmpl string) Option {
	return func(m *Matcher) {
		if strings.Count(tmpl, "%s") == 1 {
			m.template = tmpl
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Matcher) {
		m.metrics = met
	}
}

// Matcher is the embedding-based timestamp matcher. It is safe for
// concurrent use as long as concurrent calls do not share a chunk slice.
type Matcher struct {
	provider      embeddings.Provider
	vocab         *lexicon.Vocabulary
	terms         *lexicon.TermMatcher
	metrics       *observe.Metrics
	minSimilarity float64
	minAdjusted   float64
	template      string
}

// New returns a [Matcher] that embeds through provider.
func New(provider embeddings.Provider, opts ...Option) *Matcher {
	m := &Matcher{
		provider:      provider,
		vocab:         lexicon.DefaultVocabulary(),
		terms:         lexicon.NewTermMatcher(),
		minSimilarity: DefaultMinSimilarity,
		minAdjusted:   DefaultMinAdjusted,
		template:      DefaultTemplate,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Query returns the text actually embedded for takeaway.
func (m *Matcher) Query(takeaway string) string {
	return fmt.Sprintf(m.template, strings.TrimRight(strings.TrimSpace(takeaway), ".!?;:, "))
}

// FindSemanticTimestamp returns the chunk most semantically similar to
// takeaway, or nil when no chunk clears the thresholds. Chunks without an
// embedding are embedded first and the vectors are written back into chunks
// so later calls in the same run reuse them.
//
// An error is returned only when the embedding provider fails; "no match" is
// (nil, nil).
func (m *Matcher) FindSemanticTimestamp(ctx context.Context, takeaway string, chunks []types.TranscriptChunk) (_ *Match, err error) {
	if len(chunks) == 0 || strings.TrimSpace(takeaway) == "" {
		return nil, nil
	}

	ctx, span := observe.StartSpan(ctx, "semantic.match",
		trace.WithAttributes(attribute.Int("chunks", len(chunks))),
	)
	defer func() { observe.EndSpan(span, err) }()

	if err := m.EmbedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	start := time.Now()
	query, err := m.provider.Embed(ctx, m.Query(takeaway))
	m.record(ctx, start, err)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed takeaway: %w", err)
	}

	best, bestSim := -1, 0.0
	for i := range chunks {
		sim := CosineSimilarity(query, chunks[i].Embedding)
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}
	span.SetAttributes(attribute.Float64("similarity", bestSim))

	log := observe.Logger(ctx)
	if bestSim < m.minSimilarity {
		log.Debug("semantic match below similarity gate",
			"similarity", bestSim, "threshold", m.minSimilarity)
		return nil, nil
	}

	c := &chunks[best]
	tokens := chunkTokens(c.Words)
	searchTerms := lexicon.SearchTerms(takeaway)
	keyTerms := lexicon.KeyTerms(searchTerms)
	if len(keyTerms) == 0 {
		keyTerms = searchTerms
	}

	topic := m.topicRelevance(keyTerms, tokens)
	overlap := wordOverlap(searchTerms, tokens)
	adjusted := 0.6*bestSim + 0.25*topic + 0.15*overlap
	if adjusted < m.minAdjusted {
		log.Debug("semantic match below adjusted threshold",
			"chunk", c.ID, "similarity", bestSim, "topic", topic, "overlap", overlap, "adjusted", adjusted)
		return nil, nil
	}

	ts, anchored := anchor(c, keyTerms)
	return &Match{
		ChunkID:        c.ID,
		Similarity:     bestSim,
		TopicRelevance: topic,
		WordOverlap:    overlap,
		Anchored:       anchored,
		TimestampMatch: types.TimestampMatch{
			Timestamp:        ts,
			Confidence:       min(adjusted, 1),
			Tier:             types.TierSemantic,
			MatchedText:      c.Text,
			FullContext:      c.Text,
			MatchCount:       int(math.Round(overlap * float64(len(searchTerms)))),
			TotalSearchTerms: len(searchTerms),
			AccuracyScore:    adjusted,
			ContextQuality:   topic,
		},
	}, nil
}

// EmbedChunks embeds every chunk that has no embedding yet in a single
// batch and stores the vectors on the chunks.
func (m *Matcher) EmbedChunks(ctx context.Context, chunks []types.TranscriptChunk) error {
	var (
		missing []int
		texts   []string
	)
	for i := range chunks {
		if chunks[i].Embedding == nil {
			missing = append(missing, i)
			texts = append(texts, chunks[i].Text)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	start := time.Now()
	vecs, err := m.provider.EmbedBatch(ctx, texts)
	m.record(ctx, start, err)
	if err != nil {
		return fmt.Errorf("semantic: embed %d chunks: %w", len(texts), err)
	}
	if len(vecs) != len(missing) {
		return fmt.Errorf("semantic: embed chunks: provider returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, i := range missing {
		chunks[i].Embedding = vecs[j]
	}
	observe.Logger(ctx).Debug("embedded transcript chunks", "count", len(missing), "model", m.provider.ModelID())
	return nil
}

func (m *Matcher) record(ctx context.Context, start time.Time, err error) {
	m.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		m.metrics.RecordProviderError(ctx, m.provider.ModelID(), "embeddings")
	}
	m.metrics.RecordProviderRequest(ctx, m.provider.ModelID(), "embeddings", status)
}

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length, empty vectors and zero-norm vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topicRelevance is the fraction of key terms the chunk covers directly, via
// a synonym, or via another member of the same semantic group.
func (m *Matcher) topicRelevance(keyTerms []string, tokens []lexicon.Token) float64 {
	if len(keyTerms) == 0 {
		return 0
	}
	stems := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		stems[lexicon.Stem(tok.Text)] = struct{}{}
	}
	related := func(words []string) bool {
		for _, w := range words {
			if _, ok := stems[lexicon.Stem(w)]; ok {
				return true
			}
		}
		return false
	}

	hits := 0
	for _, term := range keyTerms {
		if m.anyToken(term, tokens) || related(m.vocab.SynonymsOf(term)) || related(m.vocab.GroupMembers(term)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keyTerms))
}

func (m *Matcher) anyToken(term string, tokens []lexicon.Token) bool {
	for _, tok := range tokens {
		if m.terms.Match(term, tok) {
			return true
		}
	}
	return false
}

// wordOverlap is the fraction of terms present in the chunk by stem.
func wordOverlap(terms []string, tokens []lexicon.Token) float64 {
	if len(terms) == 0 {
		return 0
	}
	stems := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		stems[lexicon.Stem(tok.Text)] = struct{}{}
	}
	hits := 0
	for _, t := range terms {
		if _, ok := stems[lexicon.Stem(t)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// anchor returns the start of the chunk word with the most key-term
// substring hits, or the chunk midpoint when no word matches.
func anchor(c *types.TranscriptChunk, keyTerms []string) (float64, bool) {
	top := slices.Clone(keyTerms)
	slices.SortStableFunc(top, func(a, b string) int { return cmp.Compare(len(b), len(a)) })
	top = top[:min(anchorTerms, len(top))]

	bestIdx, bestCount := -1, 0
	for i, w := range c.Words {
		word := lexicon.NormalizeWord(w.Word)
		if word == "" {
			continue
		}
		count := 0
		for _, t := range top {
			if strings.Contains(word, t) || (len(word) >= 4 && strings.Contains(t, word)) {
				count++
			}
		}
		if count > bestCount {
			bestIdx, bestCount = i, count
		}
	}
	if bestIdx < 0 {
		return c.Midpoint(), false
	}
	return c.Words[bestIdx].Start, true
}

func chunkTokens(words []types.TimedWord) []lexicon.Token {
	out := make([]lexicon.Token, 0, len(words))
	for _, w := range words {
		if n := lexicon.NormalizeWord(w.Word); n != "" && !lexicon.IsStopWord(n) {
			out = append(out, lexicon.NewToken(n))
		}
	}
	return out
}
