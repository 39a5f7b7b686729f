package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/podmark/pkg/provider/stt"
	"github.com/MrWong99/podmark/pkg/types"
)

// TranscriptionFallback implements [stt.Provider] with automatic failover
// across several transcription backends. Each backend has its own circuit
// breaker.
type TranscriptionFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*TranscriptionFallback)(nil)

// NewTranscriptionFallback creates a [TranscriptionFallback] with primary as
// the preferred backend.
func NewTranscriptionFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *TranscriptionFallback {
	if cfg.Kind == "" {
		cfg.Kind = "transcription"
	}
	return &TranscriptionFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcription backend.
func (f *TranscriptionFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe implements stt.Provider. An audio stream is buffered once so
// every attempt reads it from the start.
func (f *TranscriptionFallback) Transcribe(ctx context.Context, src stt.Source) (*types.Transcript, error) {
	var audio []byte
	if src.URL == "" && src.Audio != nil {
		data, err := io.ReadAll(src.Audio)
		if err != nil {
			return nil, fmt.Errorf("resilience: buffer audio: %w", err)
		}
		audio = data
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (*types.Transcript, error) {
		attempt := src
		if audio != nil {
			attempt.Audio = bytes.NewReader(audio)
		}
		return p.Transcribe(ctx, attempt)
	})
}

// Check reports whether any backend is currently admitting calls.
func (f *TranscriptionFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
