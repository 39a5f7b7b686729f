// Package mock provides a test double for the stt.Provider interface.
//
// Provider records every Transcribe call and returns a configurable transcript
// or error. The audio stream of each Source is drained and stored so tests can
// assert what would have been uploaded.
//
// Example:
//
//	p := &mock.Provider{Transcript: &types.Transcript{Words: words}}
//	tr, _ := p.Transcribe(ctx, stt.Source{URL: "https://example.com/ep.mp3"})
package mock

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/MrWong99/podmark/pkg/provider/stt"
	"github.com/MrWong99/podmark/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// URL is the Source URL passed to Transcribe.
	URL string
	// Audio is a copy of the bytes read from Source.Audio, if any.
	Audio []byte
	// MimeType is the Source MimeType passed to Transcribe.
	MimeType string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe when TranscribeErr is nil. A nil
	// Transcript yields an empty transcript with a non-nil word slice.
	Transcript *types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Transcript, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, src stt.Source) (*types.Transcript, error) {
	call := TranscribeCall{URL: src.URL, MimeType: src.MimeType}
	if src.Audio != nil {
		data, err := io.ReadAll(src.Audio)
		if err != nil {
			return nil, err
		}
		call.Audio = data
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, call)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if p.Transcript == nil {
		return &types.Transcript{Words: []types.TimedWord{}}, nil
	}
	out := *p.Transcript
	out.Words = slices.Clone(p.Transcript.Words)
	return &out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
