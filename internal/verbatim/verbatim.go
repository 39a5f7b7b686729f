// Package verbatim detects takeaways that are disguised transcript copies
// rather than genuine paraphrased insights, and filters them out while always
// keeping a minimum number of takeaways.
package verbatim

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/podmark/internal/lexicon"
)

// Detector confidences. Higher means more certain the takeaway was copied.
const (
	ConfidenceConsecutive = 0.9
	ConfidenceArtifact    = 0.85
	ConfidenceOverlap     = 0.8
	ConfidenceIncoherent  = 0.75
)

const (
	// DefaultMinRun is the length of a shared word run that marks a copy.
	DefaultMinRun = 10

	// DefaultRetention is the minimum number of takeaways Filter keeps.
	DefaultRetention = 3

	overlapRatio     = 0.99
	overlapMinUnique = 15
)

var (
	fillerCluster = regexp.MustCompile(`(?i)\b(?:(?:um+|uh+|like|you know)[\s,.]+){2,}(?:um+|uh+|like|you know)\b`)
	danglingEnd   = regexp.MustCompile(`(?i)(?:\s-|—|\band|\.\.\.|…)\s*$`)
	conjunctions  = regexp.MustCompile(`(?i)(?:\b(?:and|but|so|or|then)\b[\s,]+){2,}\b(?:and|but|so|or|then)\b`)
	incoherent    = regexp.MustCompile(`(?i)\b(?:which is is|the the|is is|a a|to to|of of|i i)\b`)
)

// Result is the verbatim verdict for one takeaway.
type Result struct {
	IsVerbatim bool    `json:"is_verbatim"`
	Confidence float64 `json:"confidence"`
	// Reason is the reason of the most confident detector that fired.
	Reason string `json:"reason,omitempty"`
	// Reasons lists every detector that fired, most confident first.
	Reasons []string `json:"reasons,omitempty"`
}

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithMinRun sets the number of consecutive shared words that marks a copy.
// Default: 10.
func WithMinRun(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minRun = n
		}
	}
}

// WithRetention sets the minimum number of takeaways [Detector.Filter]
// returns. Default: 3.
func WithRetention(n int) Option {
	return func(d *Detector) {
		if n >= 0 {
			d.retention = n
		}
	}
}

// Detector runs the verbatim heuristics. Safe for concurrent use.
type Detector struct {
	minRun    int
	retention int
}

// New returns a [Detector] configured with opts.
func New(opts ...Option) *Detector {
	d := &Detector{minRun: DefaultMinRun, retention: DefaultRetention}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Index is a transcript prepared for repeated detection.
type Index struct {
	runs  map[string]struct{}
	vocab map[string]struct{}
}

// Index tokenises transcript once so many takeaways can be checked against
// it cheaply.
func (d *Detector) Index(transcript string) *Index {
	tokens := lexicon.Tokenize(transcript)
	idx := &Index{
		runs:  make(map[string]struct{}, max(0, len(tokens)-d.minRun+1)),
		vocab: make(map[string]struct{}, len(tokens)/4),
	}
	for i, t := range tokens {
		idx.vocab[t] = struct{}{}
		if i+d.minRun <= len(tokens) {
			idx.runs[strings.Join(tokens[i:i+d.minRun], " ")] = struct{}{}
		}
	}
	return idx
}

type hit struct {
	confidence float64
	reason     string
}

// Detect reports whether takeaway looks copied from the indexed transcript.
func (d *Detector) Detect(takeaway string, idx *Index) Result {
	tokens := lexicon.Tokenize(takeaway)
	trimmed := strings.TrimSpace(takeaway)

	var hits []hit
	if d.sharesRun(tokens, idx) {
		hits = append(hits, hit{ConfidenceConsecutive, fmt.Sprintf("contains %d+ consecutive words from transcript", d.minRun)})
	}
	switch {
	case fillerCluster.MatchString(trimmed):
		hits = append(hits, hit{ConfidenceArtifact, "raw speech artifact: clustered filler words"})
	case tripleRepeat(tokens):
		hits = append(hits, hit{ConfidenceArtifact, "raw speech artifact: word repeated three times"})
	case danglingEnd.MatchString(trimmed):
		hits = append(hits, hit{ConfidenceArtifact, "raw speech artifact: dangling ending"})
	case conjunctions.MatchString(trimmed):
		hits = append(hits, hit{ConfidenceArtifact, "raw speech artifact: clustered conjunctions"})
	}
	if nearTotalOverlap(tokens, idx) {
		hits = append(hits, hit{ConfidenceOverlap, "near-total word overlap with transcript"})
	}
	if incoherent.MatchString(trimmed) {
		hits = append(hits, hit{ConfidenceIncoherent, "incoherent sentence structure"})
	}

	if len(hits) == 0 {
		return Result{}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(b.confidence, a.confidence) })
	res := Result{IsVerbatim: true, Confidence: hits[0].confidence, Reason: hits[0].reason}
	for _, h := range hits {
		res.Reasons = append(res.Reasons, h.reason)
	}
	return res
}

func (d *Detector) sharesRun(tokens []string, idx *Index) bool {
	for i := 0; i+d.minRun <= len(tokens); i++ {
		if _, ok := idx.runs[strings.Join(tokens[i:i+d.minRun], " ")]; ok {
			return true
		}
	}
	return false
}

func tripleRepeat(tokens []string) bool {
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i] == tokens[i+1] && tokens[i] == tokens[i+2] {
			return true
		}
	}
	return false
}

func nearTotalOverlap(tokens []string, idx *Index) bool {
	unique := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		unique[t] = struct{}{}
	}
	if len(unique) <= overlapMinUnique {
		return false
	}
	shared := 0
	for t := range unique {
		if _, ok := idx.vocab[t]; ok {
			shared++
		}
	}
	return float64(shared)/float64(len(unique)) > overlapRatio
}

// Filter removes verbatim takeaways, preserving input order. If fewer than
// min(retention, len(takeaways)) would survive, flagged takeaways are
// restored starting with the least confident verdicts.
func (d *Detector) Filter(takeaways []string, transcript string) []string {
	kept, _ := d.FilterWithReport(takeaways, transcript)
	return kept
}

// FilterWithReport is [Detector.Filter] that also returns the verdict for
// every input takeaway, index-aligned with takeaways.
func (d *Detector) FilterWithReport(takeaways []string, transcript string) ([]string, []Result) {
	idx := d.Index(transcript)
	results := make([]Result, len(takeaways))
	keep := make([]bool, len(takeaways))
	var flagged []int
	kept := 0
	for i, t := range takeaways {
		results[i] = d.Detect(t, idx)
		if results[i].IsVerbatim {
			flagged = append(flagged, i)
			continue
		}
		keep[i] = true
		kept++
	}

	floor := min(d.retention, len(takeaways))
	if kept < floor {
		slices.SortStableFunc(flagged, func(a, b int) int {
			return cmp.Compare(results[a].Confidence, results[b].Confidence)
		})
		for _, i := range flagged[:floor-kept] {
			keep[i] = true
		}
	}

	out := make([]string, 0, max(kept, floor))
	for i, t := range takeaways {
		if keep[i] {
			out = append(out, t)
		}
	}
	return out, results
}

var defaultDetector = New()

// Detect checks one takeaway against transcript with default settings.
func Detect(takeaway, transcript string) Result {
	return defaultDetector.Detect(takeaway, defaultDetector.Index(transcript))
}

// Filter removes verbatim takeaways with default settings.
func Filter(takeaways []string, transcript string) []string {
	return defaultDetector.Filter(takeaways, transcript)
}

// FilterWithReport is [Filter] with per-takeaway verdicts.
func FilterWithReport(takeaways []string, transcript string) ([]string, []Result) {
	return defaultDetector.FilterWithReport(takeaways, transcript)
}
