// Package ingest decodes the inputs of an alignment job: a word-timed
// transcript and the list of takeaways produced upstream.
//
// Transcripts are accepted in podmark's own shape
// ({"transcript": "...", "words": [...]}) or as a raw Deepgram prerecorded
// response. Takeaways are accepted as a JSON array of strings, a JSON array of
// objects carrying the text in "text", "takeaway" or "content", or as plain
// text with one takeaway per line.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/MrWong99/podmark/pkg/provider/stt/deepgram"
	"github.com/MrWong99/podmark/pkg/types"
)

// ErrUnknownFormat is returned when a transcript matches neither supported
// shape.
var ErrUnknownFormat = errors.New("ingest: unrecognised transcript format")

// DecodeTranscript reads a transcript document from r. Words are sorted by
// start time and entries with empty text are dropped. The returned word slice
// is never nil.
func DecodeTranscript(r io.Reader) (*types.Transcript, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: read transcript: %w", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("ingest: decode transcript: %w", err)
	}

	var t *types.Transcript
	switch {
	case probe["results"] != nil:
		t, err = deepgram.DecodeResponse(data)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
	case probe["words"] != nil || probe["transcript"] != nil:
		t = &types.Transcript{}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, fmt.Errorf("ingest: decode transcript: %w", err)
		}
	default:
		return nil, ErrUnknownFormat
	}

	t.Words = cleanWords(t.Words)
	return t, nil
}

func cleanWords(in []types.TimedWord) []types.TimedWord {
	out := make([]types.TimedWord, 0, len(in))
	for _, w := range in {
		w.Word = strings.TrimSpace(w.Word)
		if w.Word == "" {
			continue
		}
		if w.End < w.Start {
			w.End = w.Start
		}
		out = append(out, w)
	}
	slices.SortStableFunc(out, func(a, b types.TimedWord) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	return out
}

// takeawayObject is the object form of a takeaway. The first non-empty field
// in declaration order wins.
type takeawayObject struct {
	Text     string `json:"text"`
	Takeaway string `json:"takeaway"`
	Content  string `json:"content"`
}

func (o takeawayObject) value() string {
	for _, s := range []string{o.Text, o.Takeaway, o.Content} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// DecodeTakeaways reads takeaways from r. Blank entries are dropped and the
// remaining order is preserved.
func DecodeTakeaways(r io.Reader) ([]types.Takeaway, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: read takeaways: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []types.Takeaway{}, nil
	}

	if trimmed[0] == '[' {
		return decodeTakeawayArray(trimmed)
	}
	if trimmed[0] == '{' {
		var wrapper struct {
			Takeaways json.RawMessage `json:"takeaways"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("ingest: decode takeaways: %w", err)
		}
		if wrapper.Takeaways == nil {
			return nil, errors.New(`ingest: decode takeaways: object has no "takeaways" field`)
		}
		return decodeTakeawayArray(wrapper.Takeaways)
	}

	out := []types.Takeaway{}
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimLeft(line, "-*• ")
		if line != "" {
			out = append(out, types.Takeaway{Text: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ingest: scan takeaways: %w", err)
	}
	return out, nil
}

func decodeTakeawayArray(data []byte) ([]types.Takeaway, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ingest: decode takeaways: %w", err)
	}
	out := make([]types.Takeaway, 0, len(raw))
	for i, elem := range raw {
		elem = bytes.TrimSpace(elem)
		var text string
		switch {
		case len(elem) > 0 && elem[0] == '"':
			if err := json.Unmarshal(elem, &text); err != nil {
				return nil, fmt.Errorf("ingest: takeaway %d: %w", i, err)
			}
			text = strings.TrimSpace(text)
		case len(elem) > 0 && elem[0] == '{':
			var obj takeawayObject
			if err := json.Unmarshal(elem, &obj); err != nil {
				return nil, fmt.Errorf("ingest: takeaway %d: %w", i, err)
			}
			text = obj.value()
		case bytes.Equal(elem, []byte("null")):
		default:
			return nil, fmt.Errorf("ingest: takeaway %d: unsupported element %s", i, elem)
		}
		if text != "" {
			out = append(out, types.Takeaway{Text: text})
		}
	}
	return out, nil
}

// Texts returns the takeaway texts in order.
func Texts(takeaways []types.Takeaway) []string {
	out := make([]string, len(takeaways))
	for i, t := range takeaways {
		out[i] = t.Text
	}
	return out
}
