package lexicon

// stopWords covers English function words plus the conversational filler
// that dominates podcast speech.
var stopWords = toSet([]string{
	"a", "about", "above", "actually", "after", "again", "against", "all", "also", "am", "an",
	"and", "any", "are", "aren", "around", "as", "at", "be", "because", "been", "before",
	"being", "below", "between", "both", "but", "by", "can", "cannot", "could", "couldnt",
	"did", "didnt", "do", "does", "doesnt", "doing", "dont", "down", "during", "each",
	"even", "every", "few", "for", "from", "further", "get", "gets", "getting", "go",
	"going", "gonna", "got", "had", "hadnt", "has", "hasnt", "have", "havent", "having",
	"he", "her", "here", "hers", "herself", "him", "himself", "his", "how", "however", "i",
	"if", "im", "in", "into", "is", "isnt", "it", "its", "itself", "just", "kind", "know",
	"let", "lets", "like", "lot", "make", "makes", "many", "may", "me", "might", "more",
	"most", "much", "must", "my", "myself", "no", "nor", "not", "now", "of", "off", "ok",
	"okay", "on", "once", "one", "only", "or", "other", "our", "ours", "ourselves", "out",
	"over", "own", "really", "right", "same", "say", "says", "said", "see", "she", "should",
	"shouldnt", "so", "some", "something", "sort", "still", "such", "than", "that", "thats",
	"the", "their", "theirs", "them", "themselves", "then", "there", "theres", "these",
	"they", "theyre", "thing", "things", "think", "this", "those", "through", "to", "too",
	"um", "uh", "under", "until", "up", "us", "very", "want", "was", "wasnt", "way", "we",
	"well", "were", "werent", "weve", "what", "whats", "when", "where", "which", "while",
	"who", "whom", "why", "will", "with", "without", "wont", "would", "wouldnt", "yeah",
	"yes", "you", "youre", "your", "yours", "yourself", "yourselves", "youve",
})

// IsStopWord reports whether the normalised token w carries no topical meaning.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
