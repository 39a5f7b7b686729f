// Package align is the takeaway timestamp orchestrator. For each takeaway, in
// input order, it walks a cascade of match strategies (strict lexical,
// semantic, relaxed lexical, keyword fallback) until one produces a match,
// verifies the match against the surrounding transcript, and records the
// chosen timestamp so later takeaways keep their distance from it.
//
// Ordering is load-bearing: earlier takeaways get first pick of timestamps,
// so takeaways are never processed in parallel within one run.
package align

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/keyword"
	"github.com/MrWong99/podmark/internal/lexical"
	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/internal/semantic"
	"github.com/MrWong99/podmark/internal/verify"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
	"github.com/MrWong99/podmark/pkg/timestamp"
	"github.com/MrWong99/podmark/pkg/types"
)

// ExhaustionPolicy decides what happens to a takeaway no tier could match.
type ExhaustionPolicy string

const (
	// ExhaustSkip drops the takeaway from the output.
	ExhaustSkip ExhaustionPolicy = "skip"

	// ExhaustEstimate assigns an evenly distributed timestamp with
	// [EstimateConfidence].
	ExhaustEstimate ExhaustionPolicy = "estimate"
)

// VerificationPolicy decides how a failed verification is treated.
type VerificationPolicy string

const (
	// VerifyAdvisory keeps the match, logs the failure and attaches the
	// verification to the result.
	VerifyAdvisory VerificationPolicy = "advisory"

	// VerifyReject discards the match and lets the cascade try the next tier.
	VerifyReject VerificationPolicy = "reject"
)

// DefaultSemanticInterval is the minimum spacing between semantic matcher
// calls.
const DefaultSemanticInterval = 100 * time.Millisecond

// Option is a functional option for configuring an [Aligner].
type Option func(*Aligner)

// WithEmbedder enables the semantic tier using p. Without an embedder the
// cascade is purely lexical.
func WithEmbedder(p embeddings.Provider, opts ...semantic.Option) Option {
	return func(a *Aligner) {
		if p != nil {
			a.semantic = semantic.New(p, opts...)
		}
	}
}

// WithLexicalMatcher sets the matcher shared by the strict and relaxed
// lexical tiers.
func WithLexicalMatcher(m *lexical.Matcher) Option {
	return func(a *Aligner) { a.lexical = m }
}

// WithKeywordMatcher sets the keyword fallback matcher.
func WithKeywordMatcher(m *keyword.Matcher) Option {
	return func(a *Aligner) { a.keyword = m }
}

// WithVerifier sets the alignment verifier.
func WithVerifier(v *verify.Verifier) Option {
	return func(a *Aligner) { a.verifier = v }
}

// WithWindowSize sets the lexical search window in words. Default: 20.
func WithWindowSize(n int) Option {
	return func(a *Aligner) { a.windowSize = n }
}

// WithContextWindow sets the verifier context in words per side. Default: 30.
func WithContextWindow(n int) Option {
	return func(a *Aligner) { a.contextWindow = n }
}

// WithChunkOptions configures how the transcript is chunked for the
// semantic tier.
func WithChunkOptions(opts ...chunk.Option) Option {
	return func(a *Aligner) { a.chunkOpts = opts }
}

// WithExhaustionPolicy sets the policy for unmatched takeaways. Default: skip.
func WithExhaustionPolicy(p ExhaustionPolicy) Option {
	return func(a *Aligner) { a.onExhaustion = p }
}

// WithVerificationPolicy sets the policy for failed verifications.
// Default: advisory.
func WithVerificationPolicy(p VerificationPolicy) Option {
	return func(a *Aligner) { a.verification = p }
}

// WithSemanticInterval sets the minimum spacing between semantic calls.
// Zero disables pacing. Default: 100ms.
func WithSemanticInterval(d time.Duration) Option {
	return func(a *Aligner) { a.semanticInterval = d }
}

// WithSeparation sets the minimum distance in seconds the semantic tier
// keeps from timestamps already used in the run. The strict lexical tier
// takes its separation from its matcher (lexical.WithSeparation); pass the
// same value to both. Default: lexical.DefaultSeparation.
func WithSeparation(seconds float64) Option {
	return func(a *Aligner) { a.separation = seconds }
}

// WithStrategies replaces the default cascade entirely. The exhaustion
// policy still applies after the last strategy.
func WithStrategies(s ...MatchStrategy) Option {
	return func(a *Aligner) { a.strategies = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aligner) { a.metrics = m }
}

// Aligner assigns timestamps to takeaways. Align may be called concurrently
// for different episodes; each call owns its own [Run].
type Aligner struct {
	lexical  *lexical.Matcher
	semantic *semantic.Matcher
	keyword  *keyword.Matcher
	verifier *verify.Verifier
	metrics  *observe.Metrics

	windowSize       int
	contextWindow    int
	separation       float64
	chunkOpts        []chunk.Option
	onExhaustion     ExhaustionPolicy
	verification     VerificationPolicy
	semanticInterval time.Duration

	strategies []MatchStrategy
}

// New returns an [Aligner] configured with opts.
func New(opts ...Option) (*Aligner, error) {
	a := &Aligner{
		windowSize:       lexical.DefaultWindowSize,
		contextWindow:    verify.DefaultContextWindow,
		separation:       lexical.DefaultSeparation,
		onExhaustion:     ExhaustSkip,
		verification:     VerifyAdvisory,
		semanticInterval: DefaultSemanticInterval,
	}
	for _, o := range opts {
		o(a)
	}

	switch a.onExhaustion {
	case ExhaustSkip, ExhaustEstimate:
	default:
		return nil, fmt.Errorf("align: unknown exhaustion policy %q", a.onExhaustion)
	}
	switch a.verification {
	case VerifyAdvisory, VerifyReject:
	default:
		return nil, fmt.Errorf("align: unknown verification policy %q", a.verification)
	}

	if a.lexical == nil {
		a.lexical = lexical.New()
	}
	if a.keyword == nil {
		a.keyword = keyword.New()
	}
	if a.verifier == nil {
		a.verifier = verify.New()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.strategies == nil {
		a.strategies = a.defaultStrategies()
	}
	if a.onExhaustion == ExhaustEstimate {
		a.strategies = append(a.strategies, EstimateStrategy{})
	}
	return a, nil
}

func (a *Aligner) defaultStrategies() []MatchStrategy {
	s := []MatchStrategy{&LexicalStrategy{Matcher: a.lexical, WindowSize: a.windowSize}}
	if a.semantic != nil {
		var lim *rate.Limiter
		if a.semanticInterval > 0 {
			lim = rate.NewLimiter(rate.Every(a.semanticInterval), 1)
		}
		s = append(s, &SemanticStrategy{Matcher: a.semantic, Limiter: lim, Separation: a.separation})
	}
	return append(s,
		&RelaxedLexicalStrategy{Matcher: a.lexical, WindowSize: a.windowSize},
		&KeywordStrategy{Matcher: a.keyword},
	)
}

// Strategies returns the names of the cascade tiers in order.
func (a *Aligner) Strategies() []string {
	names := make([]string, len(a.strategies))
	for i, s := range a.strategies {
		names[i] = s.Name()
	}
	return names
}

// Align assigns a timestamp to each takeaway, in input order. Empty
// takeaways are dropped; takeaways no tier can place are dropped under the
// skip policy. An empty transcript yields an empty result and no error.
//
// The only error is cancellation of ctx, in which case no partial result
// is returned.
func (a *Aligner) Align(ctx context.Context, takeaways []string, words []types.TimedWord) (_ []types.AlignedTakeaway, err error) {
	texts := make([]string, 0, len(takeaways))
	for _, t := range takeaways {
		if t = strings.TrimSpace(t); t != "" {
			texts = append(texts, t)
		}
	}

	run := &Run{
		ID:        uuid.NewString(),
		Words:     words,
		Duration:  types.Duration(words),
		Total:     len(texts),
		chunkOpts: a.chunkOpts,
	}

	ctx, span := observe.StartSpan(ctx, "align.run", trace.WithAttributes(
		attribute.String("run_id", run.ID),
		attribute.Int("takeaways", len(texts)),
		attribute.Int("words", len(words)),
	))
	defer func() { observe.EndSpan(span, err) }()

	log := observe.Logger(ctx).With("run_id", run.ID)
	out := make([]types.AlignedTakeaway, 0, len(texts))
	if len(words) == 0 || len(texts) == 0 {
		log.Info("nothing to align", "takeaways", len(texts), "words", len(words))
		return out, nil
	}

	start := time.Now()
	a.metrics.ActiveRuns.Add(ctx, 1)
	defer func() {
		a.metrics.ActiveRuns.Add(ctx, -1)
		a.metrics.AlignDuration.Record(ctx, time.Since(start).Seconds())
	}()

	disabled := make(map[string]bool)
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.Index = i

		aligned, ok, err := a.alignOne(ctx, text, run, disabled)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Info("no confident match, skipping takeaway", "index", i, "takeaway", text)
			a.metrics.TakeawaysSkipped.Add(ctx, 1)
			continue
		}
		run.Used = append(run.Used, aligned.Timestamp)
		a.metrics.RecordAligned(ctx, string(aligned.Tier))
		out = append(out, aligned)
	}

	stats := Distribution(run.Used, run.Duration)
	attrs := []any{
		"aligned", len(out), "skipped", len(texts) - len(out),
		"mean_gap", stats.MeanGap, "variance", stats.Variance, "cv", stats.CV,
	}
	if stats.Clustered {
		log.Warn("takeaway timestamps are clustered", attrs...)
	} else {
		log.Info("alignment complete", attrs...)
	}
	return out, nil
}

// alignOne walks the cascade for one takeaway. ok is false when every tier
// failed.
func (a *Aligner) alignOne(ctx context.Context, text string, run *Run, disabled map[string]bool) (types.AlignedTakeaway, bool, error) {
	log := observe.Logger(ctx).With("run_id", run.ID, "index", run.Index)

	for _, s := range a.strategies {
		if disabled[s.Name()] {
			continue
		}
		m, err := s.Attempt(ctx, text, run)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.AlignedTakeaway{}, false, ctxErr
			}
			log.Warn("match tier unavailable for the rest of the run", "tier", s.Name(), "err", err)
			disabled[s.Name()] = true
			continue
		}
		if m == nil {
			log.Debug("no match at tier", "tier", s.Name())
			continue
		}

		m.Timestamp = run.clamp(m.Timestamp)
		if m.Tier == "" {
			m.Tier = s.Tier()
		}
		v := a.verifier.Verify(text, m.Timestamp, run.Words, a.contextWindow)
		if !v.IsValid {
			a.metrics.RecordVerificationFailure(ctx, string(m.Tier))
			if a.verification == VerifyReject && m.Tier != types.TierEstimated {
				log.Info("verification rejected match, trying next tier",
					"tier", s.Name(), "timestamp", m.Timestamp, "reason", v.Reason)
				continue
			}
			log.Warn("match failed verification",
				"tier", s.Name(), "timestamp", m.Timestamp, "confidence", v.Confidence, "reason", v.Reason)
		}

		log.Debug("takeaway aligned",
			"tier", m.Tier, "timestamp", m.Timestamp, "confidence", m.Confidence, "score", m.AccuracyScore)
		return types.AlignedTakeaway{
			Text:         text,
			Timestamp:    m.Timestamp,
			Formatted:    timestamp.Format(m.Timestamp),
			Confidence:   m.Confidence,
			Tier:         m.Tier,
			MatchedText:  m.MatchedText,
			FullContext:  m.FullContext,
			Verification: &v,
		}, true, nil
	}
	return types.AlignedTakeaway{}, false, nil
}

// IsCancellation reports whether err came from a cancelled or expired
// context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
