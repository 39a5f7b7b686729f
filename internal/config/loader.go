package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/podmark/internal/chunk"
	"github.com/MrWong99/podmark/internal/keyword"
	"github.com/MrWong99/podmark/internal/lexical"
	"github.com/MrWong99/podmark/internal/semantic"
	"github.com/MrWong99/podmark/internal/verbatim"
	"github.com/MrWong99/podmark/internal/verify"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"deepgram", "whisper"},
	"embeddings":    {"openai", "ollama"},
}

// DefaultShutdownTimeout bounds graceful shutdown when none is configured.
const DefaultShutdownTimeout = 15 * time.Second

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document is a valid configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// providers. It is what an empty file decodes to.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	a := &cfg.Alignment
	if a.WindowSize == 0 {
		a.WindowSize = lexical.DefaultWindowSize
	}
	if a.Separation == 0 {
		a.Separation = lexical.DefaultSeparation
	}
	if a.MinScore == 0 {
		a.MinScore = lexical.DefaultMinScore
	}
	if a.KeywordSeparation == 0 {
		a.KeywordSeparation = keyword.DefaultSeparation
	}
	if a.ContextWindow == 0 {
		a.ContextWindow = verify.DefaultContextWindow
	}
	if a.VerifyMinConfidence == 0 {
		a.VerifyMinConfidence = verify.DefaultMinConfidence
	}
	if a.Chunk.Duration == 0 {
		a.Chunk.Duration = chunk.DefaultDuration
	}
	if a.Chunk.Overlap == 0 {
		a.Chunk.Overlap = chunk.DefaultOverlap
	}
	if a.Semantic.MinSimilarity == 0 {
		a.Semantic.MinSimilarity = semantic.DefaultMinSimilarity
	}
	if a.Semantic.MinAdjusted == 0 {
		a.Semantic.MinAdjusted = semantic.DefaultMinAdjusted
	}
	if a.Semantic.Template == "" {
		a.Semantic.Template = semantic.DefaultTemplate
	}
	if a.Semantic.Interval == 0 {
		a.Semantic.Interval = 100 * time.Millisecond
	}
	if a.OnExhaustion == "" {
		a.OnExhaustion = "skip"
	}
	if a.Verification == "" {
		a.Verification = "advisory"
	}

	if cfg.Verbatim.MinRun == 0 {
		cfg.Verbatim.MinRun = verbatim.DefaultMinRun
	}
	if cfg.Verbatim.Retention == 0 {
		cfg.Verbatim.Retention = verbatim.DefaultRetention
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("transcription", p.Transcription.Name)
	validateProviderName("embeddings", p.Embeddings.Name)
	for i, fb := range p.Fallbacks.Transcription {
		prefix := fmt.Sprintf("providers.fallbacks.transcription[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName("transcription", fb.Name)
	}
	if len(p.Fallbacks.Transcription) > 0 && p.Transcription.Name == "" {
		errs = append(errs, errors.New("providers.fallbacks.transcription requires providers.transcription"))
	}
	for i, fb := range p.Fallbacks.Embeddings {
		prefix := fmt.Sprintf("providers.fallbacks.embeddings[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName("embeddings", fb.Name)
		if fb.Model != p.Embeddings.Model {
			errs = append(errs, fmt.Errorf("%s.model %q differs from providers.embeddings.model %q; fallback embeddings must come from the same model", prefix, fb.Model, p.Embeddings.Model))
		}
	}
	if len(p.Fallbacks.Embeddings) > 0 && p.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.fallbacks.embeddings requires providers.embeddings"))
	}
	if p.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.circuit_breaker.max_failures %d must not be negative", p.CircuitBreaker.MaxFailures))
	}
	if p.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.circuit_breaker.reset_timeout %s must not be negative", p.CircuitBreaker.ResetTimeout))
	}

	// Alignment
	a := cfg.Alignment
	if a.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("alignment.window_size %d must be positive", a.WindowSize))
	}
	if a.ContextWindow < 1 {
		errs = append(errs, fmt.Errorf("alignment.context_window %d must be positive", a.ContextWindow))
	}
	if a.Separation < 0 || a.KeywordSeparation < 0 {
		errs = append(errs, errors.New("alignment separations must not be negative"))
	}
	for _, r := range []struct {
		name string
		v    float64
	}{
		{"alignment.min_score", a.MinScore},
		{"alignment.verify_min_confidence", a.VerifyMinConfidence},
		{"alignment.semantic.min_similarity", a.Semantic.MinSimilarity},
		{"alignment.semantic.min_adjusted", a.Semantic.MinAdjusted},
	} {
		if r.v < 0 || r.v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", r.name, r.v))
		}
	}
	if a.Chunk.Duration <= 0 {
		errs = append(errs, fmt.Errorf("alignment.chunk.duration %.1f must be positive", a.Chunk.Duration))
	} else if a.Chunk.Overlap < 0 || a.Chunk.Overlap >= a.Chunk.Duration {
		errs = append(errs, fmt.Errorf("alignment.chunk.overlap %.1f must be in [0, duration)", a.Chunk.Overlap))
	}
	if strings.Count(a.Semantic.Template, "%s") != 1 {
		errs = append(errs, fmt.Errorf("alignment.semantic.template %q must contain exactly one %%s", a.Semantic.Template))
	}
	if a.OnExhaustion != "skip" && a.OnExhaustion != "estimate" {
		errs = append(errs, fmt.Errorf("alignment.on_exhaustion %q is invalid; valid values: skip, estimate", a.OnExhaustion))
	}
	if a.Verification != "advisory" && a.Verification != "reject" {
		errs = append(errs, fmt.Errorf("alignment.verification %q is invalid; valid values: advisory, reject", a.Verification))
	}
	if a.Semantic.IsEnabled() && p.Embeddings.Name == "" {
		slog.Debug("no embeddings provider configured; semantic tier disabled")
	}

	// Verbatim
	if cfg.Verbatim.MinRun < 2 {
		errs = append(errs, fmt.Errorf("verbatim.min_run %d must be at least 2", cfg.Verbatim.MinRun))
	}
	if cfg.Verbatim.Retention < 0 {
		errs = append(errs, fmt.Errorf("verbatim.retention %d must not be negative", cfg.Verbatim.Retention))
	}

	// Cache
	c := cfg.Cache
	if !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, postgres, none", c.Backend))
	}
	if c.Backend == CachePostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("cache.postgres_dsn is required when cache.backend is postgres"))
	}
	if c.Dimensions < 0 || c.MaxEntries < 0 {
		errs = append(errs, errors.New("cache.dimensions and cache.max_entries must not be negative"))
	}
	if c.Backend != CacheNone && p.Embeddings.Name == "" {
		slog.Debug("cache configured without an embeddings provider; it will not be used", "backend", c.Backend)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
