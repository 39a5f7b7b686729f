// Package ollama embeds transcript chunks and takeaway queries with a model
// served by a local Ollama instance, through the official Ollama API client.
//
// A transcript produces one [Provider.EmbedBatch] call per alignment run
// holding every chunk not yet cached. Local servers handle very large inputs
// poorly, so batches are split into sequential requests of at most
// [DefaultMaxBatchSize] texts (see [WithMaxBatchSize]).
//
//	p, err := ollama.New("http://gpu-box:11434", "nomic-embed-text",
//	    ollama.WithKeepAlive(10*time.Minute))
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/podmark/pkg/provider/embeddings"
)

// DefaultBaseURL is used when New receives an empty base URL.
const DefaultBaseURL = "http://localhost:11434"

// DefaultMaxBatchSize caps the number of texts sent in one /api/embed request.
const DefaultMaxBatchSize = 64

var _ embeddings.Provider = (*Provider)(nil)

var (
	// ErrModelNotFound is returned when the server does not have the model
	// pulled. Pull it with `ollama pull <model>`.
	ErrModelNotFound = errors.New("ollama embeddings: model not found on server")

	// ErrEmptyResponse is returned when the server answers without vectors.
	ErrEmptyResponse = errors.New("ollama embeddings: empty response")
)

// Provider is an [embeddings.Provider] backed by Ollama's /api/embed. It is
// safe for concurrent use.
type Provider struct {
	client       *api.Client
	model        string
	maxBatchSize int
	keepAlive    *api.Duration
	truncate     *bool

	mu   sync.Mutex
	dims int
}

type options struct {
	httpClient   *http.Client
	timeout      time.Duration
	dims         int
	maxBatchSize int
	keepAlive    time.Duration
	truncate     *bool
}

// Option configures a [Provider].
type Option func(*options)

// WithHTTPClient sets the HTTP client handed to the Ollama API client.
// WithTimeout is ignored when a client is supplied.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTimeout bounds each request when no HTTP client is supplied.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDimensions sets the vector length reported by Dimensions, skipping the
// lookup table and the detection request.
func WithDimensions(n int) Option {
	return func(o *options) { o.dims = n }
}

// WithMaxBatchSize sets how many texts go into one request. Default:
// [DefaultMaxBatchSize].
func WithMaxBatchSize(n int) Option {
	return func(o *options) { o.maxBatchSize = n }
}

// WithKeepAlive asks the server to keep the model loaded for d after each
// request, so consecutive episodes avoid a cold model load.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) { o.keepAlive = d }
}

// WithTruncate controls whether the server truncates inputs longer than the
// model's context instead of failing the request.
func WithTruncate(truncate bool) Option {
	return func(o *options) { o.truncate = &truncate }
}

// New returns a Provider for model on the server at baseURL.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: parse base URL: %w", err)
	}

	o := options{maxBatchSize: DefaultMaxBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBatchSize < 1 {
		o.maxBatchSize = DefaultMaxBatchSize
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}

	p := &Provider{
		client:       api.NewClient(base, hc),
		model:        model,
		maxBatchSize: o.maxBatchSize,
		truncate:     o.truncate,
		dims:         o.dims,
	}
	if o.keepAlive > 0 {
		p.keepAlive = &api.Duration{Duration: o.keepAlive}
	}
	if p.dims == 0 {
		p.dims = knownDimensions(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. Texts are sent in sequential
// requests of at most the configured batch size; the result is index-aligned
// with texts. An empty input issues no request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatchSize {
		end := min(start+p.maxBatchSize, len(texts))
		vecs, err := p.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("texts %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider. For models outside the lookup
// table the length is detected with one request; 0 means detection failed.
// Use [Provider.DetectDimensions] to observe the error.
func (p *Provider) Dimensions() int {
	n, _ := p.DetectDimensions(context.Background())
	return n
}

// DetectDimensions returns the vector length, embedding a short text once if
// neither WithDimensions nor the lookup table supplied it. A failed detection
// is not cached.
func (p *Provider) DetectDimensions(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims > 0 {
		return p.dims, nil
	}
	vecs, err := p.embed(ctx, []string{"dimension check"})
	if err != nil {
		return 0, fmt.Errorf("detect dimensions: %w", err)
	}
	p.dims = len(vecs[0])
	return p.dims, nil
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

// embed issues one /api/embed request and checks the vector count.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model:     p.model,
		Input:     texts,
		KeepAlive: p.keepAlive,
		Truncate:  p.truncate,
	})
	if err != nil {
		return nil, classify(p.model, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// classify maps API client errors onto this package's errors. Status errors
// stay reachable through errors.As.
func classify(model string, err error) error {
	var se api.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("ollama embeddings: %w", err)
	}
	if se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %q: %w", ErrModelNotFound, model, se)
	}
	return fmt.Errorf("ollama embeddings: server returned %d: %w", se.StatusCode, se)
}

func knownDimensions(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "nomic-embed-text"):
		return 768
	case strings.Contains(m, "mxbai-embed-large"):
		return 1024
	case strings.Contains(m, "all-minilm"):
		return 384
	case strings.Contains(m, "bge-m3"):
		return 1024
	default:
		return 0
	}
}
