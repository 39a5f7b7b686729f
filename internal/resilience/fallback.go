package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/podmark/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for the breaker created per entry. Its
	// Name is replaced with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics, e.g. "embeddings" or "transcription".
	Kind string

	// Metrics, if set, receives one request count per attempt and one error
	// count per failed attempt.
	Metrics *observe.Metrics
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails, or its circuit breaker is open, the
// next healthy fallback is tried in registration order.
//
// Entries must be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Primary returns the first registered entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Check returns nil when at least one entry would admit a call, and
// [ErrCircuitOpen] when every breaker is open. It is a readiness probe and
// never calls a provider.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, strings.Join(fg.Names(), ", "))
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds and returns its result. Entries with an open breaker are skipped.
// Cancellation of ctx stops the walk immediately and is returned unwrapped;
// otherwise a total failure is reported as [ErrAllFailed] joined with the last
// provider error.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	log := observe.Logger(ctx)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, entry.value)
			return innerErr
		})
		switch {
		case err == nil:
			fg.record(ctx, entry.name, "ok")
			return result, nil
		case errors.Is(err, ErrCircuitOpen):
			log.Debug("skipping provider, circuit open", "provider", entry.name)
		case isCancellation(err) && ctx.Err() != nil:
			return zero, err
		default:
			fg.record(ctx, entry.name, "error")
			log.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, name, status string) {
	if fg.cfg.Metrics == nil {
		return
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, name, fg.cfg.Kind, status)
	if status != "ok" {
		fg.cfg.Metrics.RecordProviderError(ctx, name, fg.cfg.Kind)
	}
}
