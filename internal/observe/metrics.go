// Package observe provides application-wide observability primitives for
// podmark: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all podmark metrics.
const meterName = "github.com/MrWong99/podmark"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AlignDuration tracks the wall time of one alignment run.
	AlignDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding provider latency per call.
	EmbeddingDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text latency per episode.
	TranscriptionDuration metric.Float64Histogram

	// --- Alignment outcome counters ---

	// TakeawaysAligned counts takeaways that received a timestamp. Use with
	// attribute.String("tier", ...).
	TakeawaysAligned metric.Int64Counter

	// TakeawaysSkipped counts takeaways dropped after every tier failed.
	TakeawaysSkipped metric.Int64Counter

	// VerbatimFiltered counts takeaways removed as transcript copies.
	VerbatimFiltered metric.Int64Counter

	// VerificationFailures counts matches the verifier judged implausible.
	// Use with attribute.String("tier", ...).
	VerificationFailures metric.Int64Counter

	// --- Provider counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CacheLookups counts embedding cache lookups. Use with
	// attribute.String("result", "hit"|"miss").
	CacheLookups metric.Int64Counter

	// --- Gauges ---

	// ActiveRuns tracks the number of alignment runs in flight.
	ActiveRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning a
// single embedding call up to a full-episode transcription.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AlignDuration, err = m.Float64Histogram("podmark.align.duration",
		metric.WithDescription("Latency of one takeaway alignment run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("podmark.embedding.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("podmark.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TakeawaysAligned, err = m.Int64Counter("podmark.takeaways.aligned",
		metric.WithDescription("Takeaways that received a timestamp, by tier."),
	); err != nil {
		return nil, err
	}
	if met.TakeawaysSkipped, err = m.Int64Counter("podmark.takeaways.skipped",
		metric.WithDescription("Takeaways dropped because no tier produced a match."),
	); err != nil {
		return nil, err
	}
	if met.VerbatimFiltered, err = m.Int64Counter("podmark.takeaways.verbatim_filtered",
		metric.WithDescription("Takeaways removed as verbatim transcript copies."),
	); err != nil {
		return nil, err
	}
	if met.VerificationFailures, err = m.Int64Counter("podmark.verification.failures",
		metric.WithDescription("Matches the verifier judged implausible, by tier."),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("podmark.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("podmark.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("podmark.embedding_cache.lookups",
		metric.WithDescription("Embedding cache lookups by result."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRuns, err = m.Int64UpDownCounter("podmark.active_runs",
		metric.WithDescription("Number of alignment runs in flight."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("podmark.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAligned records one takeaway aligned at the given tier.
func (m *Metrics) RecordAligned(ctx context.Context, tier string) {
	m.TakeawaysAligned.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordVerificationFailure records one failed verification at the given tier.
func (m *Metrics) RecordVerificationFailure(ctx context.Context, tier string) {
	m.VerificationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheLookup records hits and misses from one batched cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hits, misses int) {
	if hits > 0 {
		m.CacheLookups.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("result", "hit")))
	}
	if misses > 0 {
		m.CacheLookups.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("result", "miss")))
	}
}
