// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text to dense float32
// vectors (OpenAI text-embedding-3, a local Ollama model, ...). podmark embeds
// each takeaway and every transcript chunk with the same provider and ranks
// chunks by cosine similarity to find where the takeaway was discussed.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider share the dimensionality reported
// by Dimensions. Vectors from different models must never be compared; the
// embedding cache keys entries by ModelID for that reason.
type Provider interface {
	// Embed computes the embedding vector for a single text. The text is
	// passed through verbatim; callers apply any templating themselves.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in as few provider
	// calls as possible. The i-th result corresponds to texts[i].
	//
	// On error the entire result is nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g. "text-embedding-3-small", "nomic-embed-text").
	ModelID() string
}
