// Package stt defines the Provider interface for speech-to-text transcription
// of podcast episodes.
//
// A transcription provider turns episode audio into a [types.Transcript]: the
// provider's plain-text rendering plus every recognised word with its start
// and end time in seconds. Word timings are the only input the alignment
// engine needs, so providers that cannot report them are not suitable.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/podmark/pkg/types"
)

// ErrNoAudio is returned by Transcribe when the Source carries neither a URL
// nor an audio stream.
var ErrNoAudio = errors.New("stt: source has no audio")

// Source identifies the episode audio to transcribe. Exactly one of URL or
// Audio should be set; when both are present URL wins.
type Source struct {
	// URL is a publicly reachable audio location the provider fetches itself.
	URL string

	// Audio is a raw encoded audio stream (mp3, wav, m4a, ...).
	Audio io.Reader

	// MimeType is the content type of Audio, e.g. "audio/mpeg". Optional;
	// providers fall back to "application/octet-stream".
	MimeType string
}

// Validate reports ErrNoAudio when the source is empty.
func (s Source) Validate() error {
	if s.URL == "" && s.Audio == nil {
		return ErrNoAudio
	}
	return nil
}

// ContentType returns MimeType or the generic binary type when unset.
func (s Source) ContentType() string {
	if s.MimeType == "" {
		return "application/octet-stream"
	}
	return s.MimeType
}

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe returns the full transcript of src with word-level timings.
	// A transcript with zero words is valid and means the provider heard no
	// speech; callers must treat it as "nothing to align".
	Transcribe(ctx context.Context, src Source) (*types.Transcript, error)
}
