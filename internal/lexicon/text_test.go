package lexicon_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/podmark/internal/lexicon"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Growth is an important, strategic point!", "growth is an important strategic point"},
		{"  Don't   stop\tbelieving ", "dont stop believing"},
		{"long-term — thinking…", "long term thinking"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := lexicon.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSearchTerms_DropsStopWordsAndShortTerms(t *testing.T) {
	t.Parallel()

	got := lexicon.SearchTerms("Growth is an important strategic point. Growth!")
	want := []string{"growth", "important", "strategic", "point"}
	if !slices.Equal(got, want) {
		t.Errorf("SearchTerms = %v, want %v", got, want)
	}
}

func TestKeyTerms(t *testing.T) {
	t.Parallel()

	got := lexicon.KeyTerms([]string{"growth", "debt", "money", "compounding"})
	want := []string{"growth", "money", "compounding"}
	if !slices.Equal(got, want) {
		t.Errorf("KeyTerms = %v, want %v", got, want)
	}
}

func TestKeywords_Limit(t *testing.T) {
	t.Parallel()

	got := lexicon.Keywords("Save money early, invest in index funds, avoid debt and fees", 5)
	if len(got) != 5 {
		t.Fatalf("Keywords returned %d terms, want 5: %v", len(got), got)
	}
	if got[0] != "save" || got[1] != "money" {
		t.Errorf("Keywords order = %v, want input order", got)
	}
}

func TestConceptTerms(t *testing.T) {
	t.Parallel()

	got := lexicon.ConceptTerms("The best time to plant a tree was twenty years ago")
	want := []string{"best", "time", "plant", "tree", "twenty", "years"}
	if !slices.Equal(got, want) {
		t.Errorf("ConceptTerms = %v, want %v", got, want)
	}
}

func TestStem(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"investing":  "invest",
		"invested":   "invest",
		"invests":    "invest",
		"strategies": "strategy",
		"growth":     "growth",
		"bus":        "bus",
	}
	for in, want := range tests {
		if got := lexicon.Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}
