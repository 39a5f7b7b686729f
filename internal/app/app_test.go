package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/podmark/internal/app"
	"github.com/MrWong99/podmark/internal/config"
	"github.com/MrWong99/podmark/internal/embedcache"
	"github.com/MrWong99/podmark/internal/health"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
	embmock "github.com/MrWong99/podmark/pkg/provider/embeddings/mock"
	"github.com/MrWong99/podmark/pkg/provider/stt"
	sttmock "github.com/MrWong99/podmark/pkg/provider/stt/mock"
	"github.com/MrWong99/podmark/pkg/types"
)

const filler = "so we were chatting about the weather and other news today " +
	"so we were chatting about the weather and other news today " +
	"so we were chatting about the weather and other news today "

var topics = []struct {
	spoken   string
	takeaway string
}{
	{"compound interest rewards patient investors over many decades", "Patient investors are rewarded by compound interest over decades."},
	{"writing a monthly budget reveals hidden spending leaks quickly", "A monthly budget reveals hidden spending leaks."},
	{"hiring slowly protects company culture from costly mistakes", "Hiring slowly protects company culture."},
}

// copied lifts ten consecutive words from the transcript.
const copied = "Compound interest rewards patient investors over many decades so we were chatting."

func testTranscript() *types.Transcript {
	var b strings.Builder
	for _, tp := range topics {
		b.WriteString(filler)
		b.WriteString(tp.spoken + " ")
	}
	b.WriteString(filler)

	fields := strings.Fields(b.String())
	words := make([]types.TimedWord, len(fields))
	for i, f := range fields {
		words[i] = types.TimedWord{Word: f, Start: float64(i), End: float64(i) + 0.8, Confidence: 0.95}
	}
	return &types.Transcript{FullText: strings.Join(fields, " "), Words: words}
}

func testTakeaways() []string {
	out := make([]string, len(topics))
	for i, tp := range topics {
		out[i] = tp.takeaway
	}
	return out
}

// testConfig returns the default config with semantic pacing disabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Alignment.Semantic.Interval = -1
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestProcess_LexicalWithTranscript(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)

	res, err := a.Process(context.Background(), app.Job{
		ID:         "ep-1",
		Transcript: testTranscript(),
		Takeaways:  append(testTakeaways(), "   "),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.JobID != "ep-1" {
		t.Errorf("JobID = %q", res.JobID)
	}
	if len(res.Takeaways) != len(topics) {
		t.Fatalf("aligned %d, want %d: %+v", len(res.Takeaways), len(topics), res)
	}
	if res.TierCounts[types.TierLexical] != len(topics) {
		t.Errorf("TierCounts = %v", res.TierCounts)
	}
	if res.Skipped != 0 || len(res.Filtered) != 0 {
		t.Errorf("skipped=%d filtered=%d", res.Skipped, len(res.Filtered))
	}
	if res.TranscriptDuration <= 0 {
		t.Errorf("TranscriptDuration = %v", res.TranscriptDuration)
	}
	for i := 1; i < len(res.Takeaways); i++ {
		if res.Takeaways[i].Timestamp <= res.Takeaways[i-1].Timestamp {
			t.Errorf("takeaways out of timeline order: %v", res.Takeaways)
		}
	}
}

func TestProcess_FiltersVerbatimTakeaways(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)

	res, err := a.Process(context.Background(), app.Job{
		Transcript: testTranscript(),
		Takeaways:  append(testTakeaways(), copied),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.JobID == "" {
		t.Error("JobID should be generated")
	}
	if len(res.Filtered) != 1 || res.Filtered[0].Text != copied {
		t.Fatalf("Filtered = %+v, want the copied takeaway", res.Filtered)
	}
	if !res.Filtered[0].Verdict.IsVerbatim {
		t.Error("verdict should be verbatim")
	}
	for _, at := range res.Takeaways {
		if at.Text == copied {
			t.Error("copied takeaway must not be aligned")
		}
	}
}

func TestProcess_VerbatimFilterDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	off := false
	cfg.Verbatim.Enabled = &off
	a := newApp(t, cfg, nil)

	res, err := a.Process(context.Background(), app.Job{
		Transcript: testTranscript(),
		Takeaways:  append(testTakeaways(), copied),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Filtered) != 0 {
		t.Errorf("Filtered = %+v, want none", res.Filtered)
	}
}

func TestProcess_Transcribes(t *testing.T) {
	t.Parallel()
	transcriber := &sttmock.Provider{Transcript: testTranscript()}
	a := newApp(t, testConfig(), &app.Providers{Transcription: transcriber})

	res, err := a.Process(context.Background(), app.Job{
		Source:    &stt.Source{URL: "https://cdn.example.com/ep.mp3"},
		Takeaways: testTakeaways(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if transcriber.CallCount() != 1 || transcriber.TranscribeCalls[0].URL != "https://cdn.example.com/ep.mp3" {
		t.Errorf("calls = %+v", transcriber.TranscribeCalls)
	}
	if len(res.Takeaways) != len(topics) {
		t.Errorf("aligned %d, want %d", len(res.Takeaways), len(topics))
	}
}

func TestProcess_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a := newApp(t, testConfig(), nil)
	if _, err := a.Process(ctx, app.Job{Takeaways: testTakeaways()}); !errors.Is(err, app.ErrNoTranscript) {
		t.Errorf("err = %v, want ErrNoTranscript", err)
	}
	if _, err := a.Process(ctx, app.Job{Source: &stt.Source{URL: "x"}}); !errors.Is(err, app.ErrNoTranscriber) {
		t.Errorf("err = %v, want ErrNoTranscriber", err)
	}

	failing := &sttmock.Provider{TranscribeErr: errors.New("quota exceeded")}
	b := newApp(t, testConfig(), &app.Providers{Transcription: failing})
	if _, err := b.Process(ctx, app.Job{Source: &stt.Source{URL: "x"}}); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v, want transcription error", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := a.Process(cctx, app.Job{Transcript: testTranscript(), Takeaways: testTakeaways()}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestProcess_SemanticUsesCache(t *testing.T) {
	t.Parallel()
	emb := &embmock.Provider{
		EmbedFunc: func(text string) []float32 {
			if strings.Contains(strings.ToLower(text), "budget") || strings.Contains(strings.ToLower(text), "frugal") {
				return []float32{1, 0}
			}
			return []float32{0, 1}
		},
		DimensionsValue: 2,
		ModelIDValue:    "test-embed",
	}
	cache := embedcache.NewMemory()
	a := newApp(t, testConfig(), &app.Providers{Embeddings: emb}, app.WithCache(cache))

	job := app.Job{Transcript: testTranscript(), Takeaways: []string{"Living frugally creates freedom"}}
	res, err := a.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Takeaways) != 1 || res.Takeaways[0].Tier != types.TierSemantic {
		t.Fatalf("got %+v, want one semantic match", res.Takeaways)
	}
	if cache.Len() == 0 {
		t.Fatal("chunk embeddings were not cached")
	}

	emb.Reset()
	if _, err := a.Process(context.Background(), job); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if got := emb.BatchedTexts(); len(got) != 0 {
		t.Errorf("second run embedded %d texts, want all served from cache", len(got))
	}
}

func TestProcess_SemanticHonoursConfiguredSeparation(t *testing.T) {
	t.Parallel()
	budgetAxis := func(text string) []float32 {
		if strings.Contains(strings.ToLower(text), "budget") || strings.Contains(strings.ToLower(text), "frugal") {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	}
	job := app.Job{
		Transcript: testTranscript(),
		Takeaways:  []string{"Living frugally creates freedom", "Frugal living creates freedom"},
	}

	for sep, want := range map[float64]int{15: 1, 0: 2} {
		cfg := testConfig()
		cfg.Alignment.Separation = sep
		emb := &embmock.Provider{EmbedFunc: budgetAxis, DimensionsValue: 2, ModelIDValue: "test-embed"}
		a := newApp(t, cfg, &app.Providers{Embeddings: emb})

		res, err := a.Process(context.Background(), job)
		if err != nil {
			t.Fatalf("separation %v: Process: %v", sep, err)
		}
		if got := res.TierCounts[types.TierSemantic]; got != want {
			t.Errorf("separation %v: %d semantic matches, want %d", sep, got, want)
		}
	}
}

func TestNew_SemanticDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	off := false
	cfg.Alignment.Semantic.Enabled = &off
	emb := &embmock.Provider{DimensionsValue: 2, ModelIDValue: "m"}
	a := newApp(t, cfg, &app.Providers{Embeddings: emb})

	if _, err := a.Process(context.Background(), app.Job{
		Transcript: testTranscript(),
		Takeaways:  []string{"Living frugally creates freedom"},
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(emb.EmbedBatchCalls) != 0 {
		t.Error("embeddings provider must not be called with the semantic tier off")
	}
}

func TestNew_InvalidPolicy(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Alignment.OnExhaustion = "guess"
	if _, err := app.New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown exhaustion policy")
	}
}

func TestLoadVocabulary(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	doc := "synonyms:\n  churn: [attrition]\nsemantic_groups:\n  retention: [churn, loyalty]\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := app.LoadVocabulary(config.VocabularyConfig{
		File:     path,
		Synonyms: map[string][]string{"moat": {"advantage"}},
	})
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	if len(v.Synonyms["churn"]) != 1 || len(v.Synonyms["moat"]) != 1 {
		t.Errorf("synonyms = %v", v.Synonyms)
	}
	if len(v.SemanticGroups["retention"]) != 2 {
		t.Errorf("semantic groups = %v", v.SemanticGroups)
	}

	if _, err := app.LoadVocabulary(config.VocabularyConfig{File: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for missing vocabulary file")
	}
}

func TestProcessBatch(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)

	jobs := []app.Job{
		{ID: "a", Transcript: testTranscript(), Takeaways: testTakeaways()},
		{ID: "b", Transcript: testTranscript(), Takeaways: testTakeaways()[:1]},
		{ID: "c", Transcript: testTranscript(), Takeaways: nil},
	}
	results, err := a.ProcessBatch(context.Background(), jobs, 2)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []int{3, 1, 0} {
		if results[i].JobID != jobs[i].ID || len(results[i].Takeaways) != want {
			t.Errorf("result %d = %s with %d takeaways, want %s with %d",
				i, results[i].JobID, len(results[i].Takeaways), jobs[i].ID, want)
		}
	}

	_, err = a.ProcessBatch(context.Background(), append(jobs, app.Job{ID: "broken"}), 0)
	if !errors.Is(err, app.ErrNoTranscript) || !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v, want ErrNoTranscript naming the job", err)
	}
}

// ── Providers ────────────────────────────────────────────────────────────────

func testRegistry(transcriber *sttmock.Provider, byName map[string]*embmock.Provider) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterTranscription("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		return transcriber, nil
	})
	reg.RegisterTranscription("whisper", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Transcript: testTranscript()}, nil
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return byName[e.BaseURL], nil
	})
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{TranscribeErr: errors.New("deepgram down")}
	embA := &embmock.Provider{ModelIDValue: "nomic", DimensionsValue: 2, EmbedBatchErr: errors.New("gpu-1 down")}
	embB := &embmock.Provider{ModelIDValue: "nomic", DimensionsValue: 2, EmbedBatchResult: [][]float32{{1, 0}}}
	reg := testRegistry(primary, map[string]*embmock.Provider{"a": embA, "b": embB})

	cfg := testConfig()
	cfg.Providers = config.ProvidersConfig{
		Transcription: config.ProviderEntry{Name: "deepgram"},
		Embeddings:    config.ProviderEntry{Name: "ollama", BaseURL: "a", Model: "nomic"},
		Fallbacks: config.FallbacksConfig{
			Transcription: []config.ProviderEntry{{Name: "whisper"}},
			Embeddings:    []config.ProviderEntry{{Name: "ollama", BaseURL: "b", Model: "nomic"}},
		},
	}
	ps, err := app.BuildProviders(cfg, reg, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	tr, err := ps.Transcription.Transcribe(context.Background(), stt.Source{URL: "x"})
	if err != nil || len(tr.Words) == 0 {
		t.Fatalf("Transcribe via fallback = %v, %v", tr, err)
	}
	vecs, err := ps.Embeddings.EmbedBatch(context.Background(), []string{"q"})
	if err != nil || len(vecs) != 1 {
		t.Fatalf("EmbedBatch via fallback = %v, %v", vecs, err)
	}
	if ps.Embeddings.ModelID() != "nomic" {
		t.Errorf("ModelID = %q", ps.Embeddings.ModelID())
	}

	h := health.New()
	newApp(t, testConfig(), ps).RegisterProbes(h)
}

func TestBuildProviders_Unregistered(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.Transcription = config.ProviderEntry{Name: "assemblyai"}
	ps, err := app.BuildProviders(cfg, config.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.Transcription != nil {
		t.Error("unregistered provider should leave the slot nil")
	}
}

func TestBuildProviders_FallbackModelMismatch(t *testing.T) {
	t.Parallel()
	embA := &embmock.Provider{ModelIDValue: "nomic"}
	embB := &embmock.Provider{ModelIDValue: "mxbai"}
	reg := testRegistry(nil, map[string]*embmock.Provider{"a": embA, "b": embB})

	cfg := testConfig()
	cfg.Providers.Embeddings = config.ProviderEntry{Name: "ollama", BaseURL: "a"}
	cfg.Providers.Fallbacks.Embeddings = []config.ProviderEntry{{Name: "ollama", BaseURL: "b"}}
	if _, err := app.BuildProviders(cfg, reg, nil); err == nil || !strings.Contains(err.Error(), "mxbai") {
		t.Errorf("err = %v, want model mismatch", err)
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterEmbeddings("openai", func(config.ProviderEntry) (embeddings.Provider, error) {
		return nil, errors.New("missing api key")
	})
	cfg := testConfig()
	cfg.Providers.Embeddings = config.ProviderEntry{Name: "openai"}
	if _, err := app.BuildProviders(cfg, reg, nil); err == nil || !strings.Contains(err.Error(), "missing api key") {
		t.Errorf("err = %v, want factory error", err)
	}
}
