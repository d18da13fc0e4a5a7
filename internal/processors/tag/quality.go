// Package tag implements the map stages that annotate rows with computed
// signals: quality metrics, repetition statistics, OCR artefact features,
// perplexity, language, token and length counts.
package tag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/coral-nlp/llmdata/internal/langid"
	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

func init() {
	registry.Register("tag", "gopher_quality", func() any {
		return &GopherQualityTagger{
			MapBase:  stage.MapBase{StageName: "gopher_quality", On: "text", To: "metadata.gopher_quality"},
			Language: "de",
		}
	})
	registry.Register("tag", "gopher_repetition", func() any {
		return &GopherRepetitionTagger{
			MapBase:   stage.MapBase{StageName: "gopher_repetition", On: "text", To: "metadata.gopher_repetition"},
			TopNGrams: []int{2, 3, 4},
			DupNGrams: []int{5, 6, 7, 8, 9, 10},
		}
	})
}

// GopherQualityTagger computes the word, punctuation, and structure
// statistics used by the Gopher quality filter.
type GopherQualityTagger struct {
	stage.MapBase `yaml:",inline"`
	Language      string `yaml:"language" validate:"oneof=en de"`

	stopWords map[string]struct{}
}

// Init resolves the language's stop-word set after configuration.
func (g *GopherQualityTagger) Init() error {
	words, ok := langid.StopWords(g.Language)
	if !ok {
		return llmerrors.NewConfigError("language", "en or de", g.Language)
	}
	g.stopWords = words
	return nil
}

func isPunctuationWord(w string) bool {
	for _, r := range w {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return len(w) > 0
}

func hasLetter(w string) bool {
	for _, r := range w {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Apply implements stage.Map.
func (g *GopherQualityTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, g.On)
	if text == "" {
		err := row.Set(r, g.To, map[string]any{
			"word_count":          0,
			"avg_word_length":     0.0,
			"hash_ratio":          0.0,
			"ellipsis_ratio":      0.0,
			"bullet_line_ratio":   0.0,
			"ellipsis_line_ratio": 0.0,
			"alpha_word_ratio":    0.0,
			"stop_word_count":     0,
		})
		return r, err
	}

	words := strings.Fields(text)
	nWords := len(words)

	var nonSymbol []string
	for _, w := range words {
		if !isPunctuationWord(w) {
			nonSymbol = append(nonSymbol, w)
		}
	}

	avgLength := 0.0
	if len(nonSymbol) > 0 {
		total := 0
		for _, w := range nonSymbol {
			total += len([]rune(w))
		}
		avgLength = float64(total) / float64(len(nonSymbol))
	}

	lines := strings.Split(text, "\n")
	nLines := len(lines)
	bulletLines, ellipsisLines := 0, 0
	for _, line := range lines {
		lead := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(lead, "•") || strings.HasPrefix(lead, "-") {
			bulletLines++
		}
		trail := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trail, "...") || strings.HasSuffix(trail, "…") {
			ellipsisLines++
		}
	}

	stopWordHits := map[string]struct{}{}
	alphaWords := 0
	for _, w := range words {
		if _, ok := g.stopWords[w]; ok {
			stopWordHits[w] = struct{}{}
		}
		if hasLetter(w) {
			alphaWords++
		}
	}

	denom := float64(max(nWords, 1))
	stats := map[string]any{
		"word_count":          len(nonSymbol),
		"avg_word_length":     avgLength,
		"hash_ratio":          float64(strings.Count(text, "#")) / denom,
		"ellipsis_ratio":      float64(strings.Count(text, "...")+strings.Count(text, "…")) / denom,
		"bullet_line_ratio":   ratio(bulletLines, nLines),
		"ellipsis_line_ratio": ratio(ellipsisLines, nLines),
		"alpha_word_ratio":    ratio(alphaWords, nWords),
		"stop_word_count":     len(stopWordHits),
	}
	return r, row.Set(r, g.To, stats)
}

func ratio(num, denom int) float64 {
	if denom <= 0 {
		return 0.0
	}
	return float64(num) / float64(denom)
}

var (
	paragraphSplitter = regexp.MustCompile(`\n{2,}`)
	lineSplitter      = regexp.MustCompile(`\n+`)
)

// GopherRepetitionTagger measures duplicate paragraphs, lines, and n-grams.
type GopherRepetitionTagger struct {
	stage.MapBase `yaml:",inline"`
	TopNGrams     []int `yaml:"top_n_grams" validate:"omitempty,dive,gt=0"`
	DupNGrams     []int `yaml:"dup_n_grams" validate:"omitempty,dive,gt=0"`
}

// Apply implements stage.Map.
func (g *GopherRepetitionTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, g.On)
	if text == "" {
		stats := map[string]any{
			"dup_para_frac":      0.0,
			"dup_para_char_frac": 0.0,
			"dup_line_frac":      0.0,
			"dup_line_char_frac": 0.0,
		}
		for _, n := range g.TopNGrams {
			stats[fmt.Sprintf("top_%d_gram_char_frac", n)] = 0.0
		}
		for _, n := range g.DupNGrams {
			stats[fmt.Sprintf("dup_%d_gram_char_frac", n)] = 0.0
		}
		return r, row.Set(r, g.To, stats)
	}

	textLen := max(len([]rune(text)), 1)

	paragraphs := nonEmptySplits(paragraphSplitter, strings.TrimSpace(text))
	dupParas, dupParaChars := findDuplicates(paragraphs)
	lines := nonEmptySplits(lineSplitter, text)
	dupLines, dupLineChars := findDuplicates(lines)

	stats := map[string]any{
		"dup_para_frac":      ratio(dupParas, len(paragraphs)),
		"dup_para_char_frac": float64(dupParaChars) / float64(textLen),
		"dup_line_frac":      ratio(dupLines, len(lines)),
		"dup_line_char_frac": float64(dupLineChars) / float64(textLen),
	}

	words := strings.Fields(text)
	for _, n := range g.TopNGrams {
		stats[fmt.Sprintf("top_%d_gram_char_frac", n)] = float64(findTopDuplicate(words, n)) / float64(textLen)
	}
	for _, n := range g.DupNGrams {
		stats[fmt.Sprintf("dup_%d_gram_char_frac", n)] = float64(findAllDuplicate(words, n)) / float64(textLen)
	}
	return r, row.Set(r, g.To, stats)
}

func nonEmptySplits(re *regexp.Regexp, text string) []string {
	var out []string
	for _, part := range re.Split(text, -1) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// findDuplicates counts elements (and their characters) seen before in
// document order; an element is a duplicate from its second occurrence on.
func findDuplicates(elements []string) (count, chars int) {
	seen := map[string]struct{}{}
	for _, el := range elements {
		if _, ok := seen[el]; ok {
			count++
			chars += len([]rune(el))
		} else {
			seen[el] = struct{}{}
		}
	}
	return count, chars
}

// findTopDuplicate returns character coverage of the single most frequent
// n-gram: its length times its occurrence count.
func findTopDuplicate(words []string, n int) int {
	if len(words) < n {
		return 0
	}
	counts := map[string]int{}
	var topGram string
	topCount := 0
	for i := 0; i+n <= len(words); i++ {
		gram := strings.Join(words[i:i+n], " ")
		counts[gram]++
		if counts[gram] > topCount {
			topCount = counts[gram]
			topGram = gram
		}
	}
	return len([]rune(topGram)) * topCount
}

// findAllDuplicate greedily scans for re-occurring n-grams: a fresh n-gram
// advances by one word, a repeated one adds its length and advances by n.
func findAllDuplicate(words []string, n int) int {
	seen := map[string]struct{}{}
	repeated := 0
	for idx := 0; idx+n <= len(words); {
		gram := strings.Join(words[idx:idx+n], "")
		if _, ok := seen[gram]; ok {
			repeated += len([]rune(gram))
			idx += n
		} else {
			seen[gram] = struct{}{}
			idx++
		}
	}
	return repeated
}
