// Package chunk splits a word-timed transcript into overlapping,
// fixed-duration windows. Chunks are the unit of embedding comparison for the
// semantic matcher and the key used by the embedding cache.
package chunk

import (
	"fmt"
	"strings"

	"github.com/MrWong99/podmark/pkg/types"
)

const (
	// DefaultDuration is the length of one chunk window in seconds.
	DefaultDuration = 45.0

	// DefaultOverlap is how much consecutive windows overlap in seconds.
	DefaultOverlap = 15.0
)

// Option is a functional option for [Split].
type Option func(*config)

type config struct {
	duration float64
	overlap  float64
}

// WithDuration sets the window length in seconds. Non-positive values are
// ignored. Default: 45.
func WithDuration(seconds float64) Option {
	return func(c *config) {
		if seconds > 0 {
			c.duration = seconds
		}
	}
}

// WithOverlap sets the overlap between consecutive windows in seconds.
// Values outside [0, duration) are ignored. Default: 15.
func WithOverlap(seconds float64) Option {
	return func(c *config) {
		if seconds >= 0 {
			c.overlap = seconds
		}
	}
}

// Split walks words in fixed-duration windows advancing by duration minus
// overlap. A word belongs to a window when it starts and ends inside it.
// Windows without words are skipped. The result is never nil; it is empty
// when words is empty.
//
// Coverage of [0, duration] holds only while every window holds a word. A
// silence longer than the stride, or a word longer than the window, leaves
// spans that no chunk covers, and a word that fits in no window appears in
// no chunk.
//
// words must be ordered by start time.
func Split(words []types.TimedWord, opts ...Option) []types.TranscriptChunk {
	cfg := config{duration: DefaultDuration, overlap: DefaultOverlap}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.overlap >= cfg.duration {
		cfg.overlap = 0
	}
	stride := cfg.duration - cfg.overlap

	chunks := make([]types.TranscriptChunk, 0)
	if len(words) == 0 {
		return chunks
	}
	total := types.Duration(words)

	first := 0
	for ws := 0.0; ; ws += stride {
		we := ws + cfg.duration

		// Words are sorted by start, so everything before first started
		// before this window and can never belong to it or a later one.
		for first < len(words) && words[first].Start < ws {
			first++
		}
		var members []types.TimedWord
		for i := first; i < len(words) && words[i].Start < we; i++ {
			if words[i].End <= we {
				members = append(members, words[i])
			}
		}

		if len(members) > 0 {
			end := min(we, total)
			if end <= ws {
				end = we
			}
			chunks = append(chunks, types.TranscriptChunk{
				ID:        fmt.Sprintf("chunk-%03d", len(chunks)),
				Text:      JoinWords(members),
				StartTime: ws,
				EndTime:   end,
				Words:     members,
			})
		}

		if ws+stride >= total {
			break
		}
	}
	return chunks
}

// JoinWords renders words as readable text: single spaces between words and
// no space before trailing punctuation.
func JoinWords(words []types.TimedWord) string {
	var b strings.Builder
	for _, w := range words {
		text := strings.Join(strings.Fields(w.Word), " ")
		if text == "" {
			continue
		}
		if b.Len() > 0 && !startsWithPunct(text) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

func startsWithPunct(s string) bool {
	return strings.ContainsAny(s[:1], ",.!?;:")
}
