// Package openai provides an embeddings provider backed by the OpenAI API.
//
// Large batches (every chunk of a long episode) are split into sub-batches of
// at most [DefaultMaxBatchSize] inputs which are sent concurrently with a
// bounded number of requests in flight.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/podmark/pkg/provider/embeddings"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

const (
	// DefaultMaxBatchSize is the largest number of inputs sent in one request.
	DefaultMaxBatchSize = 256

	// DefaultConcurrency bounds the sub-batch requests in flight.
	DefaultConcurrency = 4
)

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	dimensions   int
	maxBatchSize int
	concurrency  int
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	httpClient   *http.Client
	dimensions   int
	maxBatchSize int
	concurrency  int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout. Ignored when WithHTTPClient
// is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithDimensions requests shortened vectors from text-embedding-3 models.
func WithDimensions(n int) Option {
	return func(c *config) {
		c.dimensions = n
	}
}

// WithMaxBatchSize caps the number of inputs per request.
func WithMaxBatchSize(n int) Option {
	return func(c *config) {
		c.maxBatchSize = n
	}
}

// WithConcurrency bounds the number of concurrent sub-batch requests.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// New constructs a new OpenAI Embeddings Provider.
// If model is empty, DefaultModel (text-embedding-3-small) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{
		maxBatchSize: DefaultMaxBatchSize,
		concurrency:  DefaultConcurrency,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.maxBatchSize <= 0 {
		cfg.maxBatchSize = DefaultMaxBatchSize
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = DefaultConcurrency
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{
		client:       client,
		model:        model,
		dimensions:   cfg.dimensions,
		maxBatchSize: cfg.maxBatchSize,
		concurrency:  cfg.concurrency,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := p.params()
	params.Input = oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch implements embeddings.Provider. Inputs beyond the maximum batch
// size are split into sub-batches that run concurrently; any failing
// sub-batch fails the whole call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for start := 0; start < len(texts); start += p.maxBatchSize {
		end := min(start+p.maxBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := p.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(result[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Provider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := p.params()
	params.Input = oai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		result[e.Index] = float64ToFloat32(e.Embedding)
	}
	return result, nil
}

func (p *Provider) params() oai.EmbeddingNewParams {
	params := oai.EmbeddingNewParams{Model: p.model}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	return params
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return modelDimensions(p.model)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// modelDimensions returns the embedding dimensions for known OpenAI models.
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

// float64ToFloat32 converts a []float64 slice to []float32.
func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
