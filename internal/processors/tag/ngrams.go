package tag

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("tag", "ngrams", func() any {
		return &NgramsCountTagger{
			MapBase:   stage.MapBase{StageName: "ngram_tagger", On: "text", To: "metadata.ngrams"},
			NgramSize: 5,
		}
	})
}

// ngramWordSplitter breaks text on punctuation and whitespace runs.
var ngramWordSplitter = regexp.MustCompile(`[\s\p{P}\p{S}]+`)

// NgramEntry is one counted n-gram.
type NgramEntry struct {
	Ngram string `json:"ngram"`
	Count int    `json:"count"`
}

// NgramsCountTagger writes the most frequent word n-grams of the input.
type NgramsCountTagger struct {
	stage.MapBase `yaml:",inline"`
	NgramSize     int  `yaml:"ngram_size" validate:"gt=0"`
	TopK          *int `yaml:"top_k" validate:"omitempty,gt=0"`
}

// Apply implements stage.Map.
func (n *NgramsCountTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, n.On)
	if strings.TrimSpace(text) == "" {
		return r, row.Set(r, n.To, []any{})
	}

	var words []string
	for _, w := range ngramWordSplitter.Split(text, -1) {
		if w != "" {
			words = append(words, w)
		}
	}

	counts := map[string]int{}
	order := []string{}
	for i := 0; i+n.NgramSize <= len(words); i++ {
		gram := strings.Join(words[i:i+n.NgramSize], " ")
		if counts[gram] == 0 {
			order = append(order, gram)
		}
		counts[gram]++
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if n.TopK != nil && len(order) > *n.TopK {
		order = order[:*n.TopK]
	}

	out := make([]any, len(order))
	for i, gram := range order {
		out[i] = NgramEntry{Ngram: gram, Count: counts[gram]}
	}
	return r, row.Set(r, n.To, out)
}
