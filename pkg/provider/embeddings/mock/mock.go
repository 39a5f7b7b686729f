// Package mock provides a test double for the embeddings.Provider interface.
//
// Provider returns canned vectors without a live model and records every text
// submitted, so tests can assert on templating, batching and cache hits.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedFunc: func(text string) []float32 {
//	        if strings.Contains(text, "budget") {
//	            return []float32{1, 0}
//	        }
//	        return []float32{0, 1}
//	    },
//	    DimensionsValue: 2,
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/podmark/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx context.Context
	// Texts is a copy of the slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
//
// Responses are resolved in order: the configured error, then EmbedFunc (if
// set), then the static EmbedResult / EmbedBatchResult.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, if non-nil, computes the vector for each text. It takes
	// precedence over EmbedResult and EmbedBatchResult.
	EmbedFunc func(text string) []float32

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch when EmbedFunc is nil. If
	// nil too, one nil vector per input text is returned.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

// Embed records the call and returns the configured vector or error.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text), nil
	}
	return p.EmbedResult, nil
}

// EmbedBatch records the call and returns the configured vectors or error.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: append([]string(nil), texts...)})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedFunc != nil {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = p.EmbedFunc(t)
		}
		return out, nil
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// BatchedTexts returns every text submitted through EmbedBatch, flattened in
// call order.
func (p *Provider) BatchedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.EmbedBatchCalls {
		out = append(out, c.Texts...)
	}
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

var _ embeddings.Provider = (*Provider)(nil)
