package resilience

import (
	"context"

	"github.com/MrWong99/podmark/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with automatic failover
// across several embedding backends. Each backend has its own circuit breaker.
//
// Vectors from different models are not comparable, so every entry must serve
// the same model; Dimensions and ModelID report the primary's values.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	if cfg.Kind == "" {
		cfg.Kind = "embeddings"
	}
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional embedding backend.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) {
	f.group.AddFallback(name, p)
}

// Embed implements embeddings.Provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch implements embeddings.Provider.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions implements embeddings.Provider.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID implements embeddings.Provider.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }

// Check reports whether any backend is currently admitting calls.
func (f *EmbeddingsFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
