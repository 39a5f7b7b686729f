package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/podmark/internal/config"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
	embmock "github.com/MrWong99/podmark/pkg/provider/embeddings/mock"
	"github.com/MrWong99/podmark/pkg/provider/stt"
	sttmock "github.com/MrWong99/podmark/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"
  shutdown_timeout: 30s

providers:
  transcription:
    name: deepgram
    api_key: dg-test
    model: nova-3
  embeddings:
    name: ollama
    base_url: http://localhost:11434
    model: nomic-embed-text
  fallbacks:
    transcription:
      - name: whisper
        base_url: http://localhost:8081
    embeddings:
      - name: ollama
        base_url: http://gpu-2:11434
        model: nomic-embed-text
  circuit_breaker:
    max_failures: 3
    reset_timeout: 1m

alignment:
  window_size: 25
  on_exhaustion: estimate
  verification: reject
  chunk:
    duration: 60
    overlap: 20
  semantic:
    min_similarity: 0.6
    interval: 250ms

verbatim:
  enabled: false

vocabulary:
  synonyms:
    churn: [attrition, cancellations]

cache:
  backend: postgres
  postgres_dsn: postgres://localhost/podmark
  dimensions: 768
`

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("server.shutdown_timeout: got %s, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Providers.Transcription.Name != "deepgram" {
		t.Errorf("providers.transcription.name: got %q", cfg.Providers.Transcription.Name)
	}
	if len(cfg.Providers.Fallbacks.Embeddings) != 1 {
		t.Fatalf("fallbacks.embeddings: got %d, want 1", len(cfg.Providers.Fallbacks.Embeddings))
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("circuit_breaker.reset_timeout: got %s", cfg.Providers.CircuitBreaker.ResetTimeout)
	}
	if cfg.Alignment.WindowSize != 25 {
		t.Errorf("alignment.window_size: got %d, want 25", cfg.Alignment.WindowSize)
	}
	if cfg.Alignment.Chunk.Duration != 60 || cfg.Alignment.Chunk.Overlap != 20 {
		t.Errorf("alignment.chunk: got %+v", cfg.Alignment.Chunk)
	}
	if cfg.Alignment.Semantic.Interval != 250*time.Millisecond {
		t.Errorf("alignment.semantic.interval: got %s", cfg.Alignment.Semantic.Interval)
	}
	if cfg.Verbatim.IsEnabled() {
		t.Error("verbatim should be disabled")
	}
	if !cfg.Alignment.Semantic.IsEnabled() {
		t.Error("semantic tier should default to enabled")
	}
	if got := cfg.Vocabulary.Synonyms["churn"]; len(got) != 2 {
		t.Errorf("vocabulary.synonyms.churn: got %v", got)
	}
	if cfg.Cache.Backend != config.CachePostgres || cfg.Cache.Dimensions != 768 {
		t.Errorf("cache: got %+v", cfg.Cache)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Alignment.WindowSize != 20 || cfg.Alignment.ContextWindow != 30 {
			t.Errorf("defaults not applied: %+v", cfg.Alignment)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
alignment:
  windowsize: 10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "windowsize") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/podmark.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"shutdown_timeout", cfg.Server.ShutdownTimeout, config.DefaultShutdownTimeout},
		{"window_size", cfg.Alignment.WindowSize, 20},
		{"separation", cfg.Alignment.Separation, 15.0},
		{"min_score", cfg.Alignment.MinScore, 0.6},
		{"keyword_separation", cfg.Alignment.KeywordSeparation, 10.0},
		{"verify_min_confidence", cfg.Alignment.VerifyMinConfidence, 0.4},
		{"chunk.duration", cfg.Alignment.Chunk.Duration, 45.0},
		{"chunk.overlap", cfg.Alignment.Chunk.Overlap, 15.0},
		{"semantic.min_similarity", cfg.Alignment.Semantic.MinSimilarity, 0.58},
		{"semantic.min_adjusted", cfg.Alignment.Semantic.MinAdjusted, 0.55},
		{"semantic.interval", cfg.Alignment.Semantic.Interval, 100 * time.Millisecond},
		{"on_exhaustion", cfg.Alignment.OnExhaustion, "skip"},
		{"verification", cfg.Alignment.Verification, "advisory"},
		{"verbatim.min_run", cfg.Verbatim.MinRun, 10},
		{"verbatim.retention", cfg.Verbatim.Retention, 3},
		{"cache.backend", cfg.Cache.Backend, config.CacheMemory},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			mention: "log_level",
		},
		{
			name:    "sample ratio out of range",
			yaml:    "server:\n  trace_sample_ratio: 1.5\n",
			mention: "trace_sample_ratio",
		},
		{
			name:    "unknown exhaustion policy",
			yaml:    "alignment:\n  on_exhaustion: guess\n",
			mention: "on_exhaustion",
		},
		{
			name:    "unknown verification policy",
			yaml:    "alignment:\n  verification: strict\n",
			mention: "verification",
		},
		{
			name:    "overlap not below duration",
			yaml:    "alignment:\n  chunk:\n    duration: 30\n    overlap: 30\n",
			mention: "chunk.overlap",
		},
		{
			name:    "template without placeholder",
			yaml:    "alignment:\n  semantic:\n    template: plain text\n",
			mention: "template",
		},
		{
			name:    "score out of range",
			yaml:    "alignment:\n  min_score: 2\n",
			mention: "min_score",
		},
		{
			name:    "invalid cache backend",
			yaml:    "cache:\n  backend: redis\n",
			mention: "cache.backend",
		},
		{
			name:    "postgres without dsn",
			yaml:    "cache:\n  backend: postgres\n",
			mention: "postgres_dsn",
		},
		{
			name:    "verbatim run too short",
			yaml:    "verbatim:\n  min_run: 1\n",
			mention: "min_run",
		},
		{
			name: "embeddings fallback with a different model",
			yaml: `
providers:
  embeddings:
    name: openai
    model: text-embedding-3-small
  fallbacks:
    embeddings:
      - name: ollama
        model: nomic-embed-text
`,
			mention: "same model",
		},
		{
			name: "fallback without primary",
			yaml: `
providers:
  fallbacks:
    transcription:
      - name: whisper
`,
			mention: "requires providers.transcription",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q, got: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
alignment:
  on_exhaustion: guess
cache:
  backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "on_exhaustion", "cache.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, want := range map[string]string{"transcription": "deepgram", "embeddings": "ollama"} {
		found := false
		for _, n := range config.ValidProviderNames[kind] {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, want)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateTranscription(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("transcription: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("embeddings: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantSTT := &sttmock.Provider{}
	wantEmb := &embmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterTranscription("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return wantSTT, nil
	})
	reg.RegisterEmbeddings("stub", func(config.ProviderEntry) (embeddings.Provider, error) {
		return wantEmb, nil
	})

	got, err := reg.CreateTranscription(config.ProviderEntry{Name: "stub", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != wantSTT {
		t.Error("returned transcription provider is not the expected instance")
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory received %+v", gotEntry)
	}
	emb, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "stub"})
	if err != nil || emb != wantEmb {
		t.Errorf("CreateEmbeddings = %v, %v", emb, err)
	}
	if names := reg.Names("transcription"); len(names) != 1 || names[0] != "stub" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterEmbeddings("broken", func(config.ProviderEntry) (embeddings.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"language": "de", "dimensions": 512, "concurrency": 2.0, "bad": true}
	if got := config.OptString(opts, "language"); got != "de" {
		t.Errorf("OptString = %q", got)
	}
	if got := config.OptString(nil, "language"); got != "" {
		t.Errorf("OptString(nil) = %q", got)
	}
	if got := config.OptInt(opts, "dimensions"); got != 512 {
		t.Errorf("OptInt(int) = %d", got)
	}
	if got := config.OptInt(opts, "concurrency"); got != 2 {
		t.Errorf("OptInt(float) = %d", got)
	}
	if got := config.OptInt(opts, "bad"); got != 0 {
		t.Errorf("OptInt(bool) = %d", got)
	}
}
