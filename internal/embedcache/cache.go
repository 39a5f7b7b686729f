// Package embedcache stores embedding vectors keyed by model and text so that
// re-processing an episode, or the same chunk text across runs, does not pay
// for the embedding call again.
//
// Two stores are provided: [Memory] for a single process and [Postgres] for a
// shared pgvector-backed table. [CachedProvider] wraps any
// embeddings.Provider with a Cache.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/MrWong99/podmark/pkg/provider/embeddings"
)

// Entry is one cached vector.
type Entry struct {
	// Key is the value returned by [Key] for (Model, text).
	Key string

	// Model is the embedding model that produced Vector.
	Model string

	// Vector is the embedding.
	Vector []float32
}

// Cache is a key/value store for embedding vectors. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the vectors stored under keys. Missing keys are absent from
	// the result map; a miss is not an error.
	Get(ctx context.Context, keys []string) (map[string][]float32, error)

	// Put stores entries, replacing existing vectors with the same key.
	Put(ctx context.Context, entries []Entry) error
}

// Key derives the cache key for text embedded with model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// DimensionDetector is implemented by providers that learn their vector
// length from the server and can report why that failed.
type DimensionDetector interface {
	DetectDimensions(ctx context.Context) (int, error)
}

// ErrUnknownDimensions is returned by [Dimensions] when neither the
// configuration nor the provider yields a vector length.
var ErrUnknownDimensions = errors.New("embedcache: embedding dimensions unknown; set cache.dimensions")

// Dimensions returns the vector column width for a [Postgres] cache:
// configured when positive, otherwise what the provider reports.
func Dimensions(ctx context.Context, configured int, p embeddings.Provider) (int, error) {
	if configured > 0 {
		return configured, nil
	}
	if d, ok := p.(DimensionDetector); ok {
		n, err := d.DetectDimensions(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrUnknownDimensions, err)
		}
		return n, nil
	}
	if n := p.Dimensions(); n > 0 {
		return n, nil
	}
	return 0, ErrUnknownDimensions
}
