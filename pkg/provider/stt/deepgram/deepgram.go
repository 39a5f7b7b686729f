// Package deepgram provides a Deepgram-backed STT provider. Prerecorded
// episodes are transcribed through the REST listen endpoint; local audio can
// alternatively be pushed through the streaming WebSocket API. It implements
// the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/podmark/pkg/provider/stt"
	"github.com/MrWong99/podmark/pkg/types"
	"github.com/coder/websocket"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// streamChunkSize is the number of audio bytes sent per WebSocket frame.
	streamChunkSize = 8 * 1024
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API base URL. The streaming endpoint is derived
// from it by swapping the scheme to ws/wss.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the client used for prerecorded requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe sends src to the prerecorded listen endpoint and returns the
// transcript of the first channel's best alternative.
func (p *Provider) Transcribe(ctx context.Context, src stt.Source) (*types.Transcript, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}

	endpoint, err := p.buildURL("http", false)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	var (
		body        io.Reader
		contentType string
	)
	if src.URL != "" {
		payload, err := json.Marshal(map[string]string{"url": src.URL})
		if err != nil {
			return nil, fmt.Errorf("deepgram: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	} else {
		body = src.Audio
		contentType = src.ContentType()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	t, err := DecodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return t, nil
}

// TranscribeStream pushes audio through the streaming WebSocket API and
// collects every final result into one transcript. It returns once Deepgram
// closes the connection after the stream has been flushed.
func (p *Provider) TranscribeStream(ctx context.Context, audio io.Reader) (*types.Transcript, error) {
	if audio == nil {
		return nil, fmt.Errorf("deepgram: %w", stt.ErrNoAudio)
	}

	wsURL, err := p.buildURL("ws", true)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeAudio(ctx, conn, audio)
	}()

	var (
		texts []string
		words []types.TimedWord
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		res, ok := parseStreamMessage(msg)
		if !ok {
			continue
		}
		if res.Transcript != "" {
			texts = append(texts, res.Transcript)
		}
		words = append(words, res.Words...)
	}

	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("deepgram: send audio: %w", err)
	}
	if words == nil {
		words = []types.TimedWord{}
	}
	return &types.Transcript{FullText: strings.Join(texts, " "), Words: words}, nil
}

// writeAudio sends audio in binary frames, then asks Deepgram to flush and
// close the stream.
func writeAudio(ctx context.Context, conn *websocket.Conn, audio io.Reader) error {
	buf := make([]byte, streamChunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the listen endpoint for the given scheme family
// ("http" or "ws").
func (p *Provider) buildURL(family string, stream bool) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	if family == "ws" {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if stream {
		q.Set("interim_results", "false")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response decoding ----

type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []word  `json:"words"`
}

// prerecordedResponse is the JSON body returned by POST /v1/listen.
type prerecordedResponse struct {
	Results *struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// streamResponse is a single Results event on the streaming socket.
type streamResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

// ErrMalformedResponse is returned when a Deepgram body has no results.
var ErrMalformedResponse = errors.New("response has no results")

// DecodeResponse parses a prerecorded Deepgram response body into a
// transcript. An alternative without words yields an empty, non-nil word list.
func DecodeResponse(data []byte) (*types.Transcript, error) {
	var resp prerecordedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Results == nil {
		return nil, ErrMalformedResponse
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return &types.Transcript{Words: []types.TimedWord{}}, nil
	}
	alt := resp.Results.Channels[0].Alternatives[0]
	return &types.Transcript{FullText: alt.Transcript, Words: convertWords(alt.Words)}, nil
}

type streamResult struct {
	Transcript string
	Words      []types.TimedWord
}

// parseStreamMessage extracts a final Results event. Interim results and
// metadata messages are ignored.
func parseStreamMessage(data []byte) (streamResult, bool) {
	var resp streamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return streamResult{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return streamResult{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return streamResult{Transcript: alt.Transcript, Words: convertWords(alt.Words)}, true
}

func convertWords(in []word) []types.TimedWord {
	out := make([]types.TimedWord, 0, len(in))
	for _, w := range in {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		out = append(out, types.TimedWord{
			Word:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return out
}
