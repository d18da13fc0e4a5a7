package tag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("tag", "perplexity", func() any {
		return &PerplexityTagger{
			MapBase:          stage.MapBase{StageName: "perplexity", On: "text", To: "perplexity"},
			Language:         "de",
			Backend:          "kenlm",
			MaxChars:         1 << 16,
			NormalizeNumbers: true,
			Punctuation:      1,
		}
	})
}

// Scorer produces the log10 probability of a tokenized line under a
// language model.
type Scorer interface {
	Score(line string) float64
}

// PieceTokenizer splits text into model pieces joined by single spaces, the
// way a SentencePiece processor does.
type PieceTokenizer interface {
	Tokenize(text string) string
}

// LanguageModel bundles the scorer with its matching tokenizer.
type LanguageModel struct {
	Scorer    Scorer
	Tokenizer PieceTokenizer
}

// ModelLoader constructs a language model for a language code. Loaders do
// the expensive work (downloads, file parsing); the tagger caches results.
type ModelLoader func(language string) (*LanguageModel, error)

var (
	modelLoadersMu sync.RWMutex
	modelLoaders   = map[string]ModelLoader{}

	modelCacheMu sync.Mutex
	modelCache   = map[string]*LanguageModel{}
)

// RegisterModelLoader makes a named scoring backend available to the
// perplexity tagger.
func RegisterModelLoader(name string, loader ModelLoader) {
	modelLoadersMu.Lock()
	defer modelLoadersMu.Unlock()
	modelLoaders[name] = loader
}

func loadModel(backend, language string) (*LanguageModel, error) {
	modelCacheMu.Lock()
	defer modelCacheMu.Unlock()
	key := backend + "\x00" + language
	if m, ok := modelCache[key]; ok {
		return m, nil
	}

	modelLoadersMu.RLock()
	loader, ok := modelLoaders[backend]
	modelLoadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no perplexity backend registered under %q", backend)
	}
	m, err := loader(language)
	if err != nil {
		return nil, err
	}
	modelCache[key] = m
	return m, nil
}

// unicodePunct maps wide and typographic punctuation onto ASCII forms
// before scoring.
var unicodePunct = map[rune]string{
	'，': ",", '。': ".", '、': ",", '„': `"`, '”': `"`, '“': `"`, '«': `"`, '»': `"`,
	'１': `"`, '」': `"`, '「': `"`, '《': `"`, '》': `"`, '´': "'", '∶': ":", '：': ":",
	'？': "?", '！': "!", '（': "(", '）': ")", '；': ";", '–': "-", '—': " - ",
	'．': ". ", '～': "~", '’': "'", '…': "...", '━': "-", '〈': "<", '〉': ">",
	'【': "[", '】': "]", '％': "%", '►': "-",
}

// PerplexityTagger scores text with a language model and writes the
// normalized perplexity. A model or tokenizer failure yields -1.
type PerplexityTagger struct {
	stage.MapBase `yaml:",inline"`
	Language      string `yaml:"language" validate:"oneof=en de"`
	Backend       string `yaml:"backend" validate:"required"`
	MaxChars      int    `yaml:"max_chars" validate:"gt=0"`

	LowerCase        bool `yaml:"lower_case"`
	RemoveAccents    bool `yaml:"remove_accents"`
	NormalizeNumbers bool `yaml:"normalize_numbers"`
	Punctuation      int  `yaml:"punctuation" validate:"oneof=0 1 2"`
}

// Apply implements stage.Map.
func (p *PerplexityTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := stripControl(row.GetString(r, p.On))
	if chars := []rune(text); len(chars) > p.MaxChars {
		text = string(chars[:p.MaxChars])
	}

	score, err := p.perplexity(text)
	if err != nil {
		return r, row.Set(r, p.To, -1.0)
	}
	return r, row.Set(r, p.To, score)
}

func (p *PerplexityTagger) perplexity(text string) (float64, error) {
	model, err := loadModel(p.Backend, p.Language)
	if err != nil {
		return 0, err
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = p.Normalize(line)
	}
	doc := model.Tokenizer.Tokenize(strings.Join(lines, "\n"))
	var logScore, length float64
	for _, line := range strings.Split(doc, "\n") {
		logScore += model.Scorer.Score(line)
		length += float64(len(strings.Fields(line)) + 1)
	}
	pp := math.Pow(10.0, -logScore/length)
	return math.Round(pp*10) / 10, nil
}

// Normalize applies the cc_net-style pre-scoring normalization.
func (p *PerplexityTagger) Normalize(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return line
	}
	if p.LowerCase {
		line = strings.ToLower(line)
	}
	if p.RemoveAccents {
		line = stripAccents(line)
	}
	if p.NormalizeNumbers {
		line = digitsToZero(line)
	}
	switch p.Punctuation {
	case 1:
		line = replaceUnicodePunct(line)
	case 2:
		line = removeUnicodePunct(line)
	}
	return removeNonPrinting(line)
}

func digitsToZero(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '0'
		}
		return r
	}, s)
}

func stripAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var sb strings.Builder
	sb.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func replaceUnicodePunct(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if repl, ok := unicodePunct[r]; ok {
			sb.WriteString(repl)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func removeUnicodePunct(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if _, ok := unicodePunct[r]; ok {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// removeNonPrinting drops control characters in the C0 and C1 ranges.
func removeNonPrinting(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || (r >= 127 && r < 160) {
			return -1
		}
		return r
	}, s)
}

// stripControl removes control characters below 32 except tab and newline,
// keeping the line structure the scorer depends on.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, s)
}
