package ingest

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDecodeTranscript_ContractShape(t *testing.T) {
	t.Parallel()

	doc := `{
		"transcript": "start small then grow",
		"words": [
			{"word": "then", "start": 1.0, "end": 1.2, "confidence": 0.9},
			{"word": "start", "start": 0.0, "end": 0.4, "confidence": 0.95},
			{"word": "  ", "start": 0.5, "end": 0.6},
			{"word": "small", "start": 0.4, "end": 0.8, "confidence": 0.92},
			{"word": "grow", "start": 1.2, "end": 1.1}
		]
	}`
	tr, err := DecodeTranscript(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeTranscript: %v", err)
	}
	if tr.FullText != "start small then grow" {
		t.Errorf("FullText = %q", tr.FullText)
	}

	var got []string
	for _, w := range tr.Words {
		got = append(got, w.Word)
	}
	if want := []string{"start", "small", "then", "grow"}; !slices.Equal(got, want) {
		t.Errorf("words = %v, want %v (sorted, blanks dropped)", got, want)
	}
	if last := tr.Words[3]; last.End != last.Start {
		t.Errorf("inverted word span not repaired: %+v", last)
	}
}

func TestDecodeTranscript_DeepgramResponse(t *testing.T) {
	t.Parallel()

	doc := `{"metadata":{},"results":{"channels":[{"alternatives":[{"transcript":"hi there","words":[
		{"word":"hi","punctuated_word":"Hi","start":0.1,"end":0.3,"confidence":0.9},
		{"word":"there","punctuated_word":"there.","start":0.3,"end":0.6,"confidence":0.8}]}]}]}}`
	tr, err := DecodeTranscript(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeTranscript: %v", err)
	}
	if len(tr.Words) != 2 || tr.Words[0].Word != "Hi" || tr.Words[1].Word != "there." {
		t.Errorf("words = %+v", tr.Words)
	}
	if tr.Duration() != 0.6 {
		t.Errorf("Duration = %v, want 0.6", tr.Duration())
	}
}

func TestDecodeTranscript_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{name: "unknown object", doc: `{"foo": 1}`, wantErr: ErrUnknownFormat},
		{name: "array", doc: `[1,2,3]`},
		{name: "garbage", doc: `nope`},
		{name: "bad words", doc: `{"words": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeTranscript(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeTranscript_EmptyWords(t *testing.T) {
	t.Parallel()
	tr, err := DecodeTranscript(strings.NewReader(`{"transcript": ""}`))
	if err != nil {
		t.Fatalf("DecodeTranscript: %v", err)
	}
	if tr.Words == nil || len(tr.Words) != 0 {
		t.Errorf("Words = %v, want empty non-nil", tr.Words)
	}
}

func TestDecodeTakeaways(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "strings",
			doc:  `["Save first", "  ", "Invest the rest"]`,
			want: []string{"Save first", "Invest the rest"},
		},
		{
			name: "objects",
			doc:  `[{"text": "A"}, {"takeaway": "B"}, {"content": "C"}, {"other": "D"}, {"text": "", "content": "E"}]`,
			want: []string{"A", "B", "C", "E"},
		},
		{
			name: "mixed with null",
			doc:  `["A", null, {"text": "B"}]`,
			want: []string{"A", "B"},
		},
		{
			name: "wrapped",
			doc:  `{"takeaways": ["A", {"text": "B"}]}`,
			want: []string{"A", "B"},
		},
		{
			name: "plain lines",
			doc:  "- Save first\n\n* Invest the rest\n• Review yearly\n",
			want: []string{"Save first", "Invest the rest", "Review yearly"},
		},
		{
			name: "empty",
			doc:  "   \n",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeTakeaways(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("DecodeTakeaways: %v", err)
			}
			if got == nil {
				t.Fatal("result must be non-nil")
			}
			if texts := Texts(got); !slices.Equal(texts, tt.want) {
				t.Errorf("got %v, want %v", texts, tt.want)
			}
		})
	}
}

func TestDecodeTakeaways_Errors(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{`[1, 2]`, `["ok", true]`, `{"items": []}`, `[`} {
		if _, err := DecodeTakeaways(strings.NewReader(doc)); err == nil {
			t.Errorf("DecodeTakeaways(%q): expected error", doc)
		}
	}
}
