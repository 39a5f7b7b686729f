package align

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/keyword"
	"github.com/MrWong99/podmark/internal/lexical"
	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/internal/semantic"
	"github.com/MrWong99/podmark/pkg/types"
)

// MatchStrategy is one tier of the alignment cascade. Attempt returns
// (nil, nil) when it finds no confident match; an error means the tier is
// unavailable and it is skipped for the rest of the run.
type MatchStrategy interface {
	Name() string
	Tier() types.Tier
	Attempt(ctx context.Context, takeaway string, run *Run) (*types.TimestampMatch, error)
}

// Run is the state of one alignment run. It is created by [Aligner.Align]
// and discarded when the run ends; nothing in it is shared across runs.
type Run struct {
	// ID uniquely identifies the run in logs and traces.
	ID string

	// Words is the transcript being aligned against.
	Words []types.TimedWord

	// Duration is the end of the last word.
	Duration float64

	// Used holds every timestamp assigned so far, in assignment order.
	Used []float64

	// Index is the position of the current takeaway among the non-empty
	// takeaways of the run; Total is their count.
	Index, Total int

	chunkOpts []chunk.Option
	chunks    []types.TranscriptChunk
}

// Chunks returns the run's transcript chunks, splitting on first use.
// Embeddings written into the returned slice persist for the run.
func (r *Run) Chunks() []types.TranscriptChunk {
	if r.chunks == nil {
		r.chunks = chunk.Split(r.Words, r.chunkOpts...)
	}
	return r.chunks
}

func (r *Run) clamp(ts float64) float64 {
	return math.Min(math.Max(ts, 0), r.Duration)
}

func (r *Run) nearUsed(ts, separation float64) bool {
	for _, u := range r.Used {
		if math.Abs(ts-u) < separation {
			return true
		}
	}
	return false
}

// LexicalStrategy is the strict lexical tier: it honours the minimum
// separation from already-used timestamps.
type LexicalStrategy struct {
	Matcher    *lexical.Matcher
	WindowSize int
}

func (s *LexicalStrategy) Name() string     { return "lexical" }
func (s *LexicalStrategy) Tier() types.Tier { return types.TierLexical }

func (s *LexicalStrategy) Attempt(_ context.Context, takeaway string, run *Run) (*types.TimestampMatch, error) {
	return s.Matcher.FindTimestamp(takeaway, run.Words, s.WindowSize, run.Used), nil
}

// SemanticStrategy is the embedding tier. Calls are paced by Limiter and
// matches closer than Separation to a used timestamp are discarded.
type SemanticStrategy struct {
	Matcher    *semantic.Matcher
	Limiter    *rate.Limiter
	Separation float64
}

func (s *SemanticStrategy) Name() string     { return "semantic" }
func (s *SemanticStrategy) Tier() types.Tier { return types.TierSemantic }

func (s *SemanticStrategy) Attempt(ctx context.Context, takeaway string, run *Run) (*types.TimestampMatch, error) {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("align: semantic pacing: %w", err)
		}
	}
	m, err := s.Matcher.FindSemanticTimestamp(ctx, takeaway, run.Chunks())
	if err != nil || m == nil {
		return nil, err
	}
	ts := run.clamp(m.Timestamp)
	if run.nearUsed(ts, s.Separation) {
		observe.Logger(ctx).Debug("semantic match collides with used timestamp",
			"run_id", run.ID, "timestamp", ts, "chunk", m.ChunkID)
		return nil, nil
	}
	match := m.TimestampMatch
	match.Timestamp = ts
	return &match, nil
}

// RelaxedLexicalStrategy reruns the lexical matcher with the separation
// constraint lifted and penalises the confidence to mark the weaker tier.
type RelaxedLexicalStrategy struct {
	Matcher    *lexical.Matcher
	WindowSize int
}

func (s *RelaxedLexicalStrategy) Name() string     { return "relaxed_lexical" }
func (s *RelaxedLexicalStrategy) Tier() types.Tier { return types.TierRelaxedLexical }

func (s *RelaxedLexicalStrategy) Attempt(_ context.Context, takeaway string, run *Run) (*types.TimestampMatch, error) {
	m := s.Matcher.FindTimestamp(takeaway, run.Words, s.WindowSize, nil)
	if m == nil {
		return nil, nil
	}
	m.Confidence = math.Max(0.6, m.Confidence*0.9)
	m.Tier = types.TierRelaxedLexical
	return m, nil
}

// KeywordStrategy is the low-precision keyword fallback.
type KeywordStrategy struct {
	Matcher *keyword.Matcher
}

func (s *KeywordStrategy) Name() string     { return "keyword" }
func (s *KeywordStrategy) Tier() types.Tier { return types.TierKeyword }

func (s *KeywordStrategy) Attempt(_ context.Context, takeaway string, run *Run) (*types.TimestampMatch, error) {
	return s.Matcher.FindBestKeywordMatch(takeaway, run.Words, run.Used), nil
}

// EstimateConfidence is the confidence of every estimated timestamp.
const EstimateConfidence = 0.1

// EstimateStrategy never fails: it spreads takeaways evenly across the
// episode, placing the k-th of n at duration*(k+1)/(n+1).
type EstimateStrategy struct{}

func (EstimateStrategy) Name() string     { return "estimate" }
func (EstimateStrategy) Tier() types.Tier { return types.TierEstimated }

func (EstimateStrategy) Attempt(_ context.Context, _ string, run *Run) (*types.TimestampMatch, error) {
	ts := run.Duration * float64(run.Index+1) / float64(run.Total+1)
	return &types.TimestampMatch{
		Timestamp:  ts,
		Confidence: EstimateConfidence,
		Tier:       types.TierEstimated,
	}, nil
}
