package tag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("tag", "token_count", func() any {
		return &TokenCountTagger{
			MapBase:   stage.MapBase{StageName: "token_count_tagger", On: "text", To: "metadata.token_count"},
			Tokenizer: "whitespace",
		}
	})
	registry.Register("tag", "length", func() any {
		return &LengthTagger{
			MapBase:         stage.MapBase{StageName: "length_tagger", On: "text", To: "metadata.length"},
			CountCharacters: true,
			CountWords:      true,
			CountLines:      true,
			WordDelimiter:   " ",
		}
	})
}

// TokenCounter counts the tokens a model tokenizer would produce for a text.
type TokenCounter interface {
	Count(text string) (int, error)
}

// TokenCounterLoader constructs a counter for a tokenizer identifier (e.g. a
// pretrained tokenizer name or a vocabulary path).
type TokenCounterLoader func(nameOrPath string) (TokenCounter, error)

var (
	counterLoadersMu sync.RWMutex
	counterLoaders   = map[string]TokenCounterLoader{}

	counterCacheMu sync.Mutex
	counterCache   = map[string]TokenCounter{}
)

// RegisterTokenCounterLoader makes a named tokenizer backend available.
func RegisterTokenCounterLoader(name string, loader TokenCounterLoader) {
	counterLoadersMu.Lock()
	defer counterLoadersMu.Unlock()
	counterLoaders[name] = loader
}

type whitespaceCounter struct{}

func (whitespaceCounter) Count(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type runeCounter struct{}

func (runeCounter) Count(text string) (int, error) {
	return utf8.RuneCountInString(text), nil
}

func loadTokenCounter(name, model string) (TokenCounter, error) {
	switch name {
	case "", "whitespace":
		return whitespaceCounter{}, nil
	case "runes":
		return runeCounter{}, nil
	}

	counterCacheMu.Lock()
	defer counterCacheMu.Unlock()
	key := name + "\x00" + model
	if c, ok := counterCache[key]; ok {
		return c, nil
	}

	counterLoadersMu.RLock()
	loader, ok := counterLoaders[name]
	counterLoadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no tokenizer backend registered under %q", name)
	}
	c, err := loader(model)
	if err != nil {
		return nil, err
	}
	counterCache[key] = c
	return c, nil
}

// TokenCountTagger writes the token count of the input column. The builtin
// tokenizers are "whitespace" and "runes"; model-backed tokenizers register
// a loader and are selected by name.
type TokenCountTagger struct {
	stage.MapBase `yaml:",inline"`
	Tokenizer     string `yaml:"tokenizer"`
	Model         string `yaml:"model"`
}

// Apply implements stage.Map.
func (t *TokenCountTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	counter, err := loadTokenCounter(t.Tokenizer, t.Model)
	if err != nil {
		return nil, err
	}
	n, err := counter.Count(row.GetString(r, t.On))
	if err != nil {
		return nil, err
	}
	return r, row.Set(r, t.To, n)
}

// LengthTagger writes character, word, line, and paragraph counts.
type LengthTagger struct {
	stage.MapBase `yaml:",inline"`

	CountCharacters bool   `yaml:"count_characters"`
	CountWords      bool   `yaml:"count_words"`
	CountLines      bool   `yaml:"count_lines"`
	CountParagraphs bool   `yaml:"count_paragraphs"`
	WordDelimiter   string `yaml:"word_delimiter"`
}

// Apply implements stage.Map.
func (l *LengthTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, l.On)
	stats := map[string]any{}

	if l.CountCharacters {
		stats["char_count"] = utf8.RuneCountInString(text)
	}
	if l.CountWords {
		count := 0
		if text != "" {
			for _, w := range strings.Split(text, l.WordDelimiter) {
				if strings.TrimSpace(w) != "" {
					count++
				}
			}
		}
		stats["word_count"] = count
	}
	if l.CountLines {
		if text == "" {
			stats["line_count"] = 0
		} else {
			stats["line_count"] = strings.Count(text, "\n") + 1
		}
	}
	if l.CountParagraphs {
		count := 0
		for _, p := range strings.Split(text, "\n\n") {
			if strings.TrimSpace(p) != "" {
				count++
			}
		}
		stats["paragraph_count"] = count
	}
	return r, row.Set(r, l.To, stats)
}
