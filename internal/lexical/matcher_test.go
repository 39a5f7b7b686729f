package lexical_test

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/podmark/internal/lexical"
	"github.com/MrWong99/podmark/pkg/types"
)

// timedWords turns text into words spaced step seconds apart from start.
func timedWords(text string, start, step, conf float64) []types.TimedWord {
	fields := strings.Fields(text)
	words := make([]types.TimedWord, len(fields))
	for i, f := range fields {
		s := start + float64(i)*step
		words[i] = types.TimedWord{Word: f, Start: s, End: s + step*0.8, Confidence: conf}
	}
	return words
}

func repeat(text string, n int) string {
	return strings.TrimSpace(strings.Repeat(text+" ", n))
}

// scenarioWords is 50 words over roughly 0-120s cycling through the takeaway
// vocabulary.
func scenarioWords() []types.TimedWord {
	fields := strings.Fields(repeat("growth strategy important point", 13))[:50]
	return timedWords(strings.Join(fields, " "), 0, 2.4, 0.95)
}

const filler = "we talked about the weather and the news today"

func TestFindTimestamp_StrongMatch(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := scenarioWords()
	got := m.FindTimestamp("Growth is an important strategic point.", words, lexical.DefaultWindowSize, nil)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.AccuracyScore < 0.6 {
		t.Errorf("AccuracyScore = %v, want >= 0.6", got.AccuracyScore)
	}
	if got.Timestamp != 0 {
		t.Errorf("Timestamp = %v, want 0 (earliest of equally good windows)", got.Timestamp)
	}
	if got.MatchCount != 4 || got.TotalSearchTerms != 4 {
		t.Errorf("MatchCount/TotalSearchTerms = %d/%d, want 4/4", got.MatchCount, got.TotalSearchTerms)
	}
	if got.Confidence > lexical.MaxConfidence {
		t.Errorf("Confidence = %v exceeds cap %v", got.Confidence, lexical.MaxConfidence)
	}
	if got.Tier != types.TierLexical {
		t.Errorf("Tier = %q, want %q", got.Tier, types.TierLexical)
	}
	if got.MatchedText == "" || !strings.Contains(got.FullContext, got.MatchedText) {
		t.Errorf("FullContext %q must contain MatchedText %q", got.FullContext, got.MatchedText)
	}
}

func TestFindTimestamp_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	if got := m.FindTimestamp("Growth is important", nil, 20, nil); got != nil {
		t.Errorf("empty words: got %+v, want nil", got)
	}
	if got := m.FindTimestamp("", scenarioWords(), 20, nil); got != nil {
		t.Errorf("empty takeaway: got %+v, want nil", got)
	}
	if got := m.FindTimestamp("it is what it is", scenarioWords(), 20, nil); got != nil {
		t.Errorf("stop-word takeaway: got %+v, want nil", got)
	}
}

func TestFindTimestamp_Deterministic(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := scenarioWords()
	first := m.FindTimestamp("Growth is an important strategic point.", words, 20, []float64{30})
	for range 5 {
		again := m.FindTimestamp("Growth is an important strategic point.", words, 20, []float64{30})
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("non-deterministic result: %+v vs %+v", first, again)
		}
	}
}

func TestFindTimestamp_RespectsUsedTimestamps(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := scenarioWords()
	used := []float64{0, 40}
	got := m.FindTimestamp("Growth is an important strategic point.", words, 20, used)
	if got == nil {
		t.Fatal("expected a match away from used timestamps")
	}
	for _, u := range used {
		if math.Abs(got.Timestamp-u) < lexical.DefaultSeparation {
			t.Errorf("Timestamp %v is within %vs of used %v", got.Timestamp, lexical.DefaultSeparation, u)
		}
	}
	// Word 7 at 16.8s is the first window start clear of 0s.
	if want := words[7].Start; got.Timestamp != want {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want)
	}
}

func TestFindTimestamp_AllWindowsBlocked(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := timedWords(repeat("growth strategy important point", 5), 0, 0.5, 1)
	got := m.FindTimestamp("Growth is an important strategic point.", words, 5, []float64{5})
	if got != nil {
		t.Errorf("got %+v, want nil when every window is within separation", got)
	}
}

func TestFindTimestamp_Bounds(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := scenarioWords()
	last := words[len(words)-1].End
	for _, takeaway := range []string{
		"Growth is an important strategic point.",
		"Strategy matters for growth",
		"The important point about strategy",
	} {
		got := m.FindTimestamp(takeaway, words, 20, nil)
		if got == nil {
			continue
		}
		if got.Timestamp < 0 || got.Timestamp > last {
			t.Errorf("%q: Timestamp %v outside [0, %v]", takeaway, got.Timestamp, last)
		}
	}
}

func TestFindTimestamp_RejectsSingleWordCoincidence(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := timedWords(repeat(filler, 3)+" growth "+repeat(filler, 3), 0, 0.5, 1)
	if got := m.FindTimestamp("Growth!", words, 20, nil); got != nil {
		t.Errorf("single coincidental term accepted: %+v", got)
	}
	if got := m.FindTimestamp("Growth requires patience and disciplined investing", words, 20, nil); got != nil {
		t.Errorf("one of five terms accepted: %+v", got)
	}
}

func TestFindTimestamp_FindsDiscussedRegion(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	region := "compound interest rewards patient investors over decades"
	text := repeat(filler, 10) + " " + region + " " + repeat(filler, 10)
	words := timedWords(text, 0, 0.5, 0.98)

	regionStart := 90 * 0.5 // ten filler sentences of nine words
	got := m.FindTimestamp("Patient investors are rewarded by compound interest over decades", words, 20, nil)
	if got == nil {
		t.Fatal("expected a match in the discussed region")
	}
	if got.Timestamp < regionStart-20*0.5 || got.Timestamp > regionStart {
		t.Errorf("Timestamp = %v, want within the window leading into %v", got.Timestamp, regionStart)
	}
	if !strings.Contains(got.MatchedText, region) {
		t.Errorf("MatchedText %q does not contain the region", got.MatchedText)
	}
}

func TestFindTimestamp_WindowLargerThanTranscript(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	words := timedWords("growth strategy important point", 10, 1, 1)
	got := m.FindTimestamp("Growth is an important strategic point.", words, 100, nil)
	if got == nil {
		t.Fatal("expected the whole transcript to be scored as one window")
	}
	if got.Timestamp != 10 {
		t.Errorf("Timestamp = %v, want 10", got.Timestamp)
	}
}

func TestFindTimestamp_PrefersInOrderPhrase(t *testing.T) {
	t.Parallel()

	m := lexical.New()
	// Both windows contain all terms in order; only the second has them as
	// an exact adjacent phrase.
	text := "market leaders avoid debt " + repeat(filler, 2) + " debt market leaders avoid"
	words := timedWords(text, 0, 1, 1)
	got := m.FindTimestamp("Market leaders avoid debt", words, 4, nil)
	if got == nil {
		t.Fatal("expected a match")
	}
	if got.Timestamp != 0 {
		t.Errorf("Timestamp = %v, want 0 for the in-order phrase window", got.Timestamp)
	}
}
