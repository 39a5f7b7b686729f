package lexicon

import (
	_ "embed"
	"fmt"
	"maps"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyYAML []byte

// Vocabulary holds the synonym and semantic-group tables used by the
// verifier and the semantic matcher. It is plain data: load it once, pass it
// to the components that need it, and treat it as read-only afterwards.
type Vocabulary struct {
	// Synonyms maps a term to words a speaker may have used instead.
	Synonyms map[string][]string `yaml:"synonyms"`

	// SemanticGroups maps a topic name to the words that belong to it.
	SemanticGroups map[string][]string `yaml:"semantic_groups"`

	synOnce  sync.Once
	synIndex map[string][]string
	grpOnce  sync.Once
	grpIndex map[string][]string
}

var (
	defaultVocabOnce sync.Once
	defaultVocab     *Vocabulary
)

// DefaultVocabulary returns the vocabulary embedded in the binary. The result
// is shared; callers must not mutate it. Use [Vocabulary.Merge] to derive an
// extended copy.
func DefaultVocabulary() *Vocabulary {
	defaultVocabOnce.Do(func() {
		v, err := ParseVocabulary(defaultVocabularyYAML)
		if err != nil {
			panic("lexicon: embedded vocabulary is invalid: " + err.Error())
		}
		defaultVocab = v
	})
	return defaultVocab
}

// ParseVocabulary decodes a YAML vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	v := &Vocabulary{}
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("lexicon: decode vocabulary: %w", err)
	}
	return v, nil
}

// Merge returns a new Vocabulary containing v's tables overlaid with
// other's. Entries in other replace entries with the same key. Either side
// may be nil.
func (v *Vocabulary) Merge(other *Vocabulary) *Vocabulary {
	out := &Vocabulary{
		Synonyms:       make(map[string][]string),
		SemanticGroups: make(map[string][]string),
	}
	for _, src := range []*Vocabulary{v, other} {
		if src == nil {
			continue
		}
		maps.Copy(out.Synonyms, src.Synonyms)
		maps.Copy(out.SemanticGroups, src.SemanticGroups)
	}
	return out
}

// SynonymsOf returns the words related to term. Lookup is by stem, so
// "growing" finds the entry for "growth" only if they share a stem; exact
// keys are tried first.
func (v *Vocabulary) SynonymsOf(term string) []string {
	if v == nil {
		return nil
	}
	v.synOnce.Do(func() {
		v.synIndex = make(map[string][]string, len(v.Synonyms)*2)
		for k, syns := range v.Synonyms {
			v.synIndex[k] = append(v.synIndex[k], syns...)
			if s := Stem(k); s != k {
				v.synIndex[s] = append(v.synIndex[s], syns...)
			}
		}
	})
	if syns, ok := v.synIndex[term]; ok {
		return syns
	}
	return v.synIndex[Stem(term)]
}

// GroupMembers returns the union of every semantic group containing term
// (compared by stem), excluding term itself. The result is sorted.
func (v *Vocabulary) GroupMembers(term string) []string {
	if v == nil {
		return nil
	}
	v.grpOnce.Do(func() {
		v.grpIndex = make(map[string][]string)
		for _, members := range v.SemanticGroups {
			for _, m := range members {
				key := Stem(m)
				v.grpIndex[key] = append(v.grpIndex[key], members...)
			}
		}
	})
	members := v.grpIndex[Stem(term)]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != term {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
