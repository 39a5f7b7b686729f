package embedcache

import (
	"context"
	"fmt"

	"github.com/MrWong99/podmark/internal/observe"
	"github.com/MrWong99/podmark/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*CachedProvider)(nil)

// ProviderOption configures a [CachedProvider].
type ProviderOption func(*CachedProvider)

// WithMetrics records cache hits and misses on m.
func WithMetrics(m *observe.Metrics) ProviderOption {
	return func(p *CachedProvider) {
		p.metrics = m
	}
}

// CachedProvider serves embeddings from a [Cache] and forwards only the
// misses to the wrapped provider, in a single batch.
//
// Cache failures never fail an embedding call: a failed lookup is treated as
// all misses and a failed write is logged.
type CachedProvider struct {
	inner   embeddings.Provider
	cache   Cache
	metrics *observe.Metrics
}

// NewCachedProvider wraps inner with cache.
func NewCachedProvider(inner embeddings.Provider, cache Cache, opts ...ProviderOption) *CachedProvider {
	p := &CachedProvider{inner: inner, cache: cache}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Embed implements embeddings.Provider.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. Duplicate texts within one call
// are embedded once.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := p.inner.ModelID()
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(model, t)
	}

	log := observe.Logger(ctx)
	hits, err := p.cache.Get(ctx, keys)
	if err != nil {
		log.Warn("embedding cache lookup failed", "err", err)
		hits = map[string][]float32{}
	}

	var (
		missTexts []string
		missKeys  []string
		seen      = make(map[string]bool)
	)
	for i, k := range keys {
		if _, ok := hits[k]; ok || seen[k] {
			continue
		}
		seen[k] = true
		missTexts = append(missTexts, texts[i])
		missKeys = append(missKeys, k)
	}

	if p.metrics != nil {
		p.metrics.RecordCacheLookup(ctx, len(texts)-len(missTexts), len(missTexts))
	}

	if len(missTexts) > 0 {
		vecs, err := p.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("embedcache: provider returned %d vectors for %d texts", len(vecs), len(missTexts))
		}
		entries := make([]Entry, len(vecs))
		for i, v := range vecs {
			hits[missKeys[i]] = v
			entries[i] = Entry{Key: missKeys[i], Model: model, Vector: v}
		}
		if err := p.cache.Put(ctx, entries); err != nil {
			log.Warn("embedding cache write failed", "err", err, "entries", len(entries))
		}
	}

	out := make([][]float32, len(texts))
	for i, k := range keys {
		out[i] = hits[k]
	}
	log.Debug("embedded batch", "model", model, "texts", len(texts), "misses", len(missTexts))
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (p *CachedProvider) ModelID() string { return p.inner.ModelID() }
