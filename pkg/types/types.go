// Package types defines the shared types used across all podmark packages.
//
// These types form the lingua franca between the transcription and embedding
// providers, the individual matchers, and the alignment orchestrator. Each
// package defines its own internal types, but cross-cutting data structures
// live here to avoid circular imports.
package types

// TimedWord is one transcribed word with its position in the source audio.
// Start and End are expressed in seconds from the beginning of the episode.
// Words are produced once per transcription job and treated as immutable.
type TimedWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Transcript is the full machine transcript of one episode.
type Transcript struct {
	// FullText is the provider's plain-text rendering of the episode.
	FullText string `json:"transcript"`

	// Words is ordered by Start ascending. May be empty when the provider
	// degraded; in that case no alignment is possible.
	Words []TimedWord `json:"words"`
}

// Duration returns the end time of the last word, or 0 for an empty transcript.
func (t Transcript) Duration() float64 {
	return Duration(t.Words)
}

// Duration returns the end time of the last word in words, or 0 when empty.
func Duration(words []TimedWord) float64 {
	if len(words) == 0 {
		return 0
	}
	return words[len(words)-1].End
}

// TranscriptChunk is a fixed-duration, overlapping slice of the transcript used
// as the unit of embedding comparison.
type TranscriptChunk struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	StartTime float64     `json:"start_time"`
	EndTime   float64     `json:"end_time"`
	Words     []TimedWord `json:"-"`

	// Embedding is populated lazily by the semantic matcher. Nil until then.
	Embedding []float32 `json:"-"`
}

// Midpoint returns the centre of the chunk's time span.
func (c TranscriptChunk) Midpoint() float64 {
	return c.StartTime + (c.EndTime-c.StartTime)/2
}

// Takeaway is the canonical takeaway record. Upstream generators emit either
// bare strings or objects; both are normalised into this shape at ingestion.
type Takeaway struct {
	Text string `json:"text"`
}

// Tier is the reliability class of a timestamp match.
type Tier string

const (
	// TierLexical is a strict lexical match respecting timestamp separation.
	TierLexical Tier = "lexical"

	// TierSemantic is an embedding-similarity match.
	TierSemantic Tier = "semantic"

	// TierRelaxedLexical is a lexical match found with separation lifted.
	TierRelaxedLexical Tier = "relaxed_lexical"

	// TierKeyword is the low-precision keyword fallback.
	TierKeyword Tier = "keyword"

	// TierEstimated is an evenly distributed guess with no textual evidence.
	TierEstimated Tier = "estimated"
)

// Rank orders tiers by reliability; higher is more reliable.
func (t Tier) Rank() int {
	switch t {
	case TierLexical, TierSemantic:
		return 4
	case TierRelaxedLexical:
		return 3
	case TierKeyword:
		return 2
	case TierEstimated:
		return 1
	default:
		return 0
	}
}

// TimestampMatch is one candidate anchor for a takeaway. It is ephemeral and
// merged into an [AlignedTakeaway] before leaving the core.
type TimestampMatch struct {
	Timestamp        float64 `json:"timestamp"`
	Confidence       float64 `json:"confidence"`
	Tier             Tier    `json:"tier"`
	MatchedText      string  `json:"matched_text,omitempty"`
	FullContext      string  `json:"full_context,omitempty"`
	MatchCount       int     `json:"match_count,omitempty"`
	TotalSearchTerms int     `json:"total_search_terms,omitempty"`
	AccuracyScore    float64 `json:"accuracy_score,omitempty"`
	ContextQuality   float64 `json:"context_quality,omitempty"`
}

// Verification is the outcome of independently checking a (takeaway,
// timestamp) pair against the surrounding transcript.
type Verification struct {
	IsValid        bool    `json:"is_valid"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
	ContextSnippet string  `json:"context_snippet,omitempty"`
}

// AlignedTakeaway is the output record handed to the persistence layer.
type AlignedTakeaway struct {
	Text         string        `json:"text"`
	Timestamp    float64       `json:"timestamp"`
	Formatted    string        `json:"formatted"`
	Confidence   float64       `json:"confidence"`
	Tier         Tier          `json:"tier"`
	MatchedText  string        `json:"matched_text,omitempty"`
	FullContext  string        `json:"full_context,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
}
