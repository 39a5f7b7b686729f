// Package app wires the podmark subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the vocabulary, the
// matchers, the embedding cache and the aligner from configuration; Process
// turns one episode (a transcript or audio plus its takeaways) into aligned
// takeaways; Shutdown releases pooled connections.
//
// For testing, inject doubles via functional options (WithCache,
// WithMetrics) and pass mock providers in [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/podmark/internal/align"
	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/config"
	"github.com/MrWong99/podmark/internal/embedcache"
	"github.com/MrWong99/podmark/internal/health"
	"github.com/MrWong99/podmark/internal/keyword"
	"github.com/MrWong99/podmark/internal/lexical"
	"github.com/MrWong99/podmark/internal/lexicon"
	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/internal/semantic"
	"github.com/MrWong99/podmark/internal/verbatim"
	"github.com/MrWong99/podmark/internal/verify"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
	"github.com/MrWong99/podmark/pkg/provider/stt"
	"github.com/MrWong99/podmark/pkg/types"
)

var (
	// ErrNoTranscript is returned by [App.Process] when a job carries neither
	// a transcript nor an audio source.
	ErrNoTranscript = errors.New("app: job has no transcript or audio source")

	// ErrNoTranscriber is returned by [App.Process] when a job needs
	// transcription but no transcription provider is configured.
	ErrNoTranscriber = errors.New("app: no transcription provider configured")
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by [BuildProviders] or by tests.
type Providers struct {
	Transcription stt.Provider
	Embeddings    embeddings.Provider
}

// Job is one episode to align.
type Job struct {
	// ID labels the job in logs and output. Generated when empty.
	ID string

	// Transcript is used as-is when set.
	Transcript *types.Transcript

	// Source is transcribed when Transcript is nil.
	Source *stt.Source

	// Takeaways are the insight statements to place on the timeline.
	Takeaways []string
}

// FilteredTakeaway is a takeaway the verbatim filter removed.
type FilteredTakeaway struct {
	Text    string          `json:"text"`
	Verdict verbatim.Result `json:"verdict"`
}

// Result is the outcome of one job.
type Result struct {
	JobID     string                  `json:"job_id"`
	Takeaways []types.AlignedTakeaway `json:"takeaways"`

	// Filtered lists takeaways dropped as transcript copies.
	Filtered []FilteredTakeaway `json:"filtered,omitempty"`

	// Skipped counts takeaways no tier could place.
	Skipped int `json:"skipped"`

	// TierCounts counts aligned takeaways per confidence tier.
	TierCounts map[types.Tier]int `json:"tier_counts"`

	// TranscriptDuration is the episode length in seconds.
	TranscriptDuration float64 `json:"transcript_duration"`

	// Elapsed is the wall time spent on the job.
	Elapsed time.Duration `json:"-"`
}

// App owns the alignment pipeline and its dependencies.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	vocab    *lexicon.Vocabulary
	cache    embedcache.Cache
	embedder embeddings.Provider
	aligner  *align.Aligner
	verbatim *verbatim.Detector

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCache injects an embedding cache instead of creating one from config.
func WithCache(c embedcache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via [BuildProviders]); either slot may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Vocabulary ────────────────────────────────────────────────────
	vocab, err := LoadVocabulary(cfg.Vocabulary)
	if err != nil {
		return nil, fmt.Errorf("app: init vocabulary: %w", err)
	}
	a.vocab = vocab

	// ── 2. Embedding cache ───────────────────────────────────────────────
	if err := a.initEmbedder(ctx); err != nil {
		return nil, fmt.Errorf("app: init embeddings: %w", err)
	}

	// ── 3. Aligner ───────────────────────────────────────────────────────
	if err := a.initAligner(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init aligner: %w", err)
	}

	// ── 4. Verbatim filter ───────────────────────────────────────────────
	a.verbatim = verbatim.New(
		verbatim.WithMinRun(cfg.Verbatim.MinRun),
		verbatim.WithRetention(cfg.Verbatim.Retention),
	)

	slog.Info("podmark ready",
		"tiers", a.aligner.Strategies(),
		"transcription", providers.Transcription != nil,
		"cache", a.cacheBackend(),
		"verbatim_filter", cfg.Verbatim.IsEnabled(),
	)
	return a, nil
}

// LoadVocabulary builds the synonym and topic tables: the embedded defaults,
// overlaid with the configured file, overlaid with inline entries.
func LoadVocabulary(vc config.VocabularyConfig) (*lexicon.Vocabulary, error) {
	vocab := lexicon.DefaultVocabulary()
	if vc.File != "" {
		data, err := os.ReadFile(vc.File)
		if err != nil {
			return nil, fmt.Errorf("read vocabulary %q: %w", vc.File, err)
		}
		fromFile, err := lexicon.ParseVocabulary(data)
		if err != nil {
			return nil, fmt.Errorf("vocabulary %q: %w", vc.File, err)
		}
		vocab = vocab.Merge(fromFile)
	}
	if len(vc.Synonyms) > 0 || len(vc.SemanticGroups) > 0 {
		vocab = vocab.Merge(&lexicon.Vocabulary{
			Synonyms:       vc.Synonyms,
			SemanticGroups: vc.SemanticGroups,
		})
	}
	return vocab, nil
}

// initEmbedder decorates the embeddings provider with the configured cache.
// Without a provider, or with the semantic tier switched off, the embedder
// stays nil and the cascade is purely lexical.
func (a *App) initEmbedder(ctx context.Context) error {
	p := a.providers.Embeddings
	if p == nil || !a.cfg.Alignment.Semantic.IsEnabled() {
		return nil
	}
	if a.cache == nil {
		switch a.cfg.Cache.Backend {
		case config.CacheMemory, "":
			var opts []embedcache.MemoryOption
			if n := a.cfg.Cache.MaxEntries; n > 0 {
				opts = append(opts, embedcache.WithMaxEntries(n))
			}
			a.cache = embedcache.NewMemory(opts...)
		case config.CachePostgres:
			dims, err := embedcache.Dimensions(ctx, a.cfg.Cache.Dimensions, p)
			if err != nil {
				return err
			}
			pg, err := embedcache.NewPostgres(ctx, a.cfg.Cache.PostgresDSN, dims)
			if err != nil {
				return err
			}
			a.cache = pg
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
		case config.CacheNone:
		}
	}

	a.embedder = p
	if a.cache != nil {
		a.embedder = embedcache.NewCachedProvider(p, a.cache, embedcache.WithMetrics(a.metrics))
	}
	return nil
}

func (a *App) initAligner() error {
	ac := a.cfg.Alignment

	var termOpts []lexicon.TermOption
	if ac.Fuzzy.Threshold > 0 {
		termOpts = append(termOpts, lexicon.WithFuzzyThreshold(ac.Fuzzy.Threshold))
	}
	if ac.Fuzzy.PhoneticThreshold > 0 {
		termOpts = append(termOpts, lexicon.WithPhoneticThreshold(ac.Fuzzy.PhoneticThreshold))
	}
	if ac.Fuzzy.MinLength > 0 {
		termOpts = append(termOpts, lexicon.WithFuzzyMinLength(ac.Fuzzy.MinLength))
	}
	terms := lexicon.NewTermMatcher(termOpts...)

	interval := ac.Semantic.Interval
	if interval < 0 {
		interval = 0
	}

	opts := []align.Option{
		align.WithLexicalMatcher(lexical.New(
			lexical.WithTermMatcher(terms),
			lexical.WithSeparation(ac.Separation),
			lexical.WithMinScore(ac.MinScore),
		)),
		align.WithKeywordMatcher(keyword.New(keyword.WithSeparation(ac.KeywordSeparation))),
		align.WithVerifier(verify.New(
			verify.WithVocabulary(a.vocab),
			verify.WithMinConfidence(ac.VerifyMinConfidence),
		)),
		align.WithWindowSize(ac.WindowSize),
		align.WithSeparation(ac.Separation),
		align.WithContextWindow(ac.ContextWindow),
		align.WithChunkOptions(chunk.WithDuration(ac.Chunk.Duration), chunk.WithOverlap(ac.Chunk.Overlap)),
		align.WithExhaustionPolicy(align.ExhaustionPolicy(ac.OnExhaustion)),
		align.WithVerificationPolicy(align.VerificationPolicy(ac.Verification)),
		align.WithSemanticInterval(interval),
		align.WithMetrics(a.metrics),
	}
	if a.embedder != nil {
		opts = append(opts, align.WithEmbedder(a.embedder,
			semantic.WithThresholds(ac.Semantic.MinSimilarity, ac.Semantic.MinAdjusted),
			semantic.WithTemplate(ac.Semantic.Template),
			semantic.WithVocabulary(a.vocab),
			semantic.WithTermMatcher(terms),
			semantic.WithMetrics(a.metrics),
		))
	}

	aligner, err := align.New(opts...)
	if err != nil {
		return err
	}
	a.aligner = aligner
	return nil
}

func (a *App) cacheBackend() string {
	switch a.cache.(type) {
	case nil:
		return "none"
	case *embedcache.Memory:
		return "memory"
	case *embedcache.Postgres:
		return "postgres"
	default:
		return "custom"
	}
}

// ─── Process ─────────────────────────────────────────────────────────────────

// Process aligns one job: it obtains the transcript (given or transcribed),
// drops takeaways that merely copy the transcript, and assigns a timestamp
// to each remaining takeaway.
func (a *App) Process(ctx context.Context, job Job) (_ *Result, err error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "app.process", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.Int("takeaways", len(job.Takeaways)),
	))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With("job_id", job.ID)

	tr, err := a.transcript(ctx, job)
	if err != nil {
		return nil, err
	}

	takeaways := make([]string, 0, len(job.Takeaways))
	for _, t := range job.Takeaways {
		if t = strings.TrimSpace(t); t != "" {
			takeaways = append(takeaways, t)
		}
	}

	res := &Result{
		JobID:              job.ID,
		TierCounts:         make(map[types.Tier]int),
		TranscriptDuration: tr.Duration(),
	}

	if a.cfg.Verbatim.IsEnabled() {
		kept, verdicts := a.verbatim.FilterWithReport(takeaways, transcriptText(tr))
		keptSet := make(map[int]bool, len(kept))
		k := 0
		for i, t := range takeaways {
			if k < len(kept) && kept[k] == t {
				keptSet[i] = true
				k++
			}
		}
		for i, t := range takeaways {
			if !keptSet[i] {
				res.Filtered = append(res.Filtered, FilteredTakeaway{Text: t, Verdict: verdicts[i]})
				log.Info("takeaway filtered as verbatim copy", "takeaway", t, "reason", verdicts[i].Reason)
			}
		}
		if n := len(res.Filtered); n > 0 {
			a.metrics.VerbatimFiltered.Add(ctx, int64(n))
		}
		takeaways = kept
	}

	aligned, err := a.aligner.Align(ctx, takeaways, tr.Words)
	if err != nil {
		return nil, fmt.Errorf("app: align: %w", err)
	}
	res.Takeaways = aligned
	res.Skipped = len(takeaways) - len(aligned)
	for _, t := range aligned {
		res.TierCounts[t.Tier]++
	}
	res.Elapsed = time.Since(start)

	log.Info("job complete",
		"aligned", len(aligned),
		"filtered", len(res.Filtered),
		"skipped", res.Skipped,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// transcript returns the job's transcript, transcribing its source if needed.
func (a *App) transcript(ctx context.Context, job Job) (*types.Transcript, error) {
	if job.Transcript != nil {
		return job.Transcript, nil
	}
	if job.Source == nil {
		return nil, ErrNoTranscript
	}
	if a.providers.Transcription == nil {
		return nil, ErrNoTranscriber
	}

	ctx, span := observe.StartSpan(ctx, "app.transcribe")
	start := time.Now()
	tr, err := a.providers.Transcription.Transcribe(ctx, *job.Source)
	a.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("app: transcribe: %w", err)
	}
	observe.Logger(ctx).Info("transcription complete",
		"job_id", job.ID, "words", len(tr.Words), "duration", tr.Duration())
	return tr, nil
}

// transcriptText is the text the verbatim filter compares against.
func transcriptText(tr *types.Transcript) string {
	if tr.FullText != "" {
		return tr.FullText
	}
	words := make([]string, len(tr.Words))
	for i, w := range tr.Words {
		words[i] = w.Word
	}
	return strings.Join(words, " ")
}

// ─── Readiness ───────────────────────────────────────────────────────────────

// RegisterProbes adds readiness probes for the dependencies that can go
// away at runtime: the Postgres embedding cache and any provider fallback
// group whose circuit breakers are all open.
func (a *App) RegisterProbes(h *health.Handler) {
	if pg, ok := a.cache.(*embedcache.Postgres); ok {
		h.Add("embedding_cache", health.ProbeFunc(pg.Ping))
	}
	if p, ok := a.providers.Transcription.(health.Probe); ok {
		h.Add("transcription", p)
	}
	if p, ok := a.providers.Embeddings.(health.Probe); ok {
		h.Add("embeddings", p)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all resources. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
