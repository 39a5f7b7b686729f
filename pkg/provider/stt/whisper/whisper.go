// Package whisper provides a local whisper.cpp-backed STT provider.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference, and asks for the verbose_json response format so that
// segment and word timings are returned alongside the text. Episodes given by
// URL are downloaded by the provider first because whisper-server only accepts
// uploads.
//
// When a segment carries no word timings (older server builds), its words are
// spread evenly across the segment's time span.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	transcript, err := p.Transcribe(ctx, stt.Source{Audio: f, MimeType: "audio/wav"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/podmark/pkg/provider/stt"
	"github.com/MrWong99/podmark/pkg/types"
)

const (
	defaultLanguage    = "en"
	defaultTemperature = "0.0"
	responseFormat     = "verbose_json"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient sets the client used for both downloads and inference.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the episode audio to /inference and converts the
// verbose_json segments into a word-timed transcript.
func (p *Provider) Transcribe(ctx context.Context, src stt.Source) (*types.Transcript, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	audio, filename := src.Audio, "audio"
	if src.URL != "" {
		body, err := p.download(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("whisper: download %s: %w", src.URL, err)
		}
		defer body.Close()
		audio = body
		if base := path.Base(src.URL); base != "" && base != "/" && base != "." {
			filename = base
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, fmt.Errorf("whisper: read audio: %w", err)
	}
	fields := map[string]string{
		"response_format": responseFormat,
		"temperature":     defaultTemperature,
		"language":        p.language,
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &buf)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("whisper: decode response: %w", err)
	}
	return result.transcript(), nil
}

func (p *Provider) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// ---- response decoding ----

type inferenceResponse struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []struct {
		Word        string  `json:"word"`
		Start       float64 `json:"start"`
		End         float64 `json:"end"`
		Probability float64 `json:"probability"`
	} `json:"words"`
}

func (r inferenceResponse) transcript() *types.Transcript {
	words := make([]types.TimedWord, 0)
	for _, seg := range r.Segments {
		if len(seg.Words) == 0 {
			words = append(words, spreadSegment(seg)...)
			continue
		}
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" || isSpecialToken(text) {
				continue
			}
			words = append(words, types.TimedWord{
				Word:       text,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Probability,
			})
		}
	}
	return &types.Transcript{FullText: strings.TrimSpace(r.Text), Words: words}
}

// spreadSegment assigns each word of a segment an equal share of its span.
func spreadSegment(seg segment) []types.TimedWord {
	fields := strings.Fields(seg.Text)
	if len(fields) == 0 {
		return nil
	}
	step := (seg.End - seg.Start) / float64(len(fields))
	out := make([]types.TimedWord, 0, len(fields))
	for i, f := range fields {
		start := seg.Start + float64(i)*step
		out = append(out, types.TimedWord{Word: f, Start: start, End: start + step})
	}
	return out
}

// isSpecialToken reports whether text is a whisper control token such as
// "[_BEG_]" or "[_TT_150]".
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") && strings.HasSuffix(text, "]")
}
