// Command podmark assigns transcript timestamps to podcast takeaways.
//
// It reads a word-timed transcript (or transcribes an audio file or URL with
// the configured provider), reads a list of takeaways, and writes the aligned
// takeaways as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/podmark/internal/align"
	"github.com/MrWong99/podmark/internal/app"
	"github.com/MrWong99/podmark/internal/config"
	"github.com/MrWong99/podmark/internal/health"
	"github.com/MrWong99/podmark/internal/ingest"
	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/podmark/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/podmark/pkg/provider/embeddings/openai"
	"github.com/MrWong99/podmark/pkg/provider/stt"
	"github.com/MrWong99/podmark/pkg/provider/stt/deepgram"
	"github.com/MrWong99/podmark/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	transcriptPath := flag.String("transcript", "", "word-timed transcript JSON file")
	audioURL := flag.String("audio-url", "", "audio URL to transcribe when no transcript is given")
	audioFile := flag.String("audio-file", "", "audio file to transcribe when no transcript is given")
	takeawaysPath := flag.String("takeaways", "", "takeaways file (JSON array, {\"takeaways\": [...]}, or one per line); - reads stdin")
	outPath := flag.String("out", "", "write the result JSON here instead of stdout")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics, /healthz and /readyz on this address")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("podmark", version)
		return 0
	}
	if *takeawaysPath == "" {
		fmt.Fprintln(os.Stderr, "podmark: -takeaways is required")
		flag.Usage()
		return 2
	}
	if *transcriptPath == "" && *audioURL == "" && *audioFile == "" {
		fmt.Fprintln(os.Stderr, "podmark: one of -transcript, -audio-url or -audio-file is required")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "podmark: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "podmark: %v\n", err)
			}
			return 1
		}
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("podmark starting", "version", version, "config", *configPath, "log_level", cfg.Server.LogLevel)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Ops server (optional) ─────────────────────────────────────────────────
	checks := health.New(health.WithVersion(version))
	if cfg.Server.MetricsAddr != "" {
		srv, err := startOpsServer(cfg.Server.MetricsAddr, telemetry.Handler, checks, metrics)
		if err != nil {
			slog.Error("failed to start ops server", "addr", cfg.Server.MetricsAddr, "err", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("ops server shutdown error", "err", err)
			}
		}()
	}

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()
	application.RegisterProbes(checks)
	checks.SetReady(true)

	// ── Inputs ────────────────────────────────────────────────────────────────
	job, closeInputs, err := buildJob(*transcriptPath, *audioURL, *audioFile, *takeawaysPath)
	if err != nil {
		slog.Error("failed to read inputs", "err", err)
		return 1
	}
	defer closeInputs()

	// ── Align ─────────────────────────────────────────────────────────────────
	res, err := application.Process(ctx, job)
	if err != nil {
		if align.IsCancellation(err) {
			slog.Warn("interrupted before alignment finished", "err", err)
			return 130
		}
		slog.Error("processing failed", "err", err)
		return 1
	}

	if err := writeResult(*outPath, res); err != nil {
		slog.Error("failed to write result", "err", err)
		return 1
	}
	slog.Info("done",
		"aligned", len(res.Takeaways),
		"filtered", len(res.Filtered),
		"skipped", res.Skipped,
		"elapsed", res.Elapsed,
	)
	return 0
}

// ── Inputs and output ─────────────────────────────────────────────────────────

// buildJob reads the transcript (or prepares an audio source) and the
// takeaways. The returned close func releases an opened audio file.
func buildJob(transcriptPath, audioURL, audioFile, takeawaysPath string) (app.Job, func(), error) {
	noop := func() {}
	var job app.Job

	takeaways, err := readTakeaways(takeawaysPath)
	if err != nil {
		return job, noop, err
	}
	job.Takeaways = takeaways

	switch {
	case transcriptPath != "":
		f, err := os.Open(transcriptPath)
		if err != nil {
			return job, noop, err
		}
		defer f.Close()
		tr, err := ingest.DecodeTranscript(f)
		if err != nil {
			return job, noop, fmt.Errorf("%s: %w", transcriptPath, err)
		}
		job.Transcript = tr
		return job, noop, nil

	case audioURL != "":
		job.Source = &stt.Source{URL: audioURL}
		return job, noop, nil

	default:
		f, err := os.Open(audioFile)
		if err != nil {
			return job, noop, err
		}
		job.Source = &stt.Source{
			Audio:    f,
			MimeType: mime.TypeByExtension(filepath.Ext(audioFile)),
		}
		return job, func() { _ = f.Close() }, nil
	}
}

func readTakeaways(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	takeaways, err := ingest.DecodeTakeaways(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ingest.Texts(takeaways), nil
}

func writeResult(path string, res *app.Result) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// ── Ops server ────────────────────────────────────────────────────────────────

func startOpsServer(addr string, metricsHandler http.Handler, checks *health.Handler, metrics *observe.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)
	checks.Register(mux)

	srv := &http.Server{
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", "err", err)
		}
	}()
	slog.Info("ops server listening", "addr", ln.Addr().String())
	return srv, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Every provider shares one HTTP client instrumented with otelhttp so
// outbound calls appear as child spans of the alignment run.
func registerBuiltinProviders(reg *config.Registry) {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscription("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithHTTPClient(httpClient)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscription("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(httpClient)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithHTTPClient(httpClient)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := config.OptInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		if n := config.OptInt(entry.Options, "max_batch_size"); n > 0 {
			opts = append(opts, oaembed.WithMaxBatchSize(n))
		}
		if n := config.OptInt(entry.Options, "concurrency"); n > 0 {
			opts = append(opts, oaembed.WithConcurrency(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []ollamaembed.Option{ollamaembed.WithHTTPClient(httpClient)}
		if n := config.OptInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{"transcription", "embeddings"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
