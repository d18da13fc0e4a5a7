package tag

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

// uniformScorer assigns every line a fixed log10 probability per call.
type uniformScorer struct{ logProb float64 }

func (s uniformScorer) Score(string) float64 { return s.logProb }

type identityTokenizer struct{}

func (identityTokenizer) Tokenize(text string) string { return text }

func registerUniformBackend(t *testing.T, name string, logProb float64) {
	t.Helper()
	RegisterModelLoader(name, func(language string) (*LanguageModel, error) {
		return &LanguageModel{Scorer: uniformScorer{logProb: logProb}, Tokenizer: identityTokenizer{}}, nil
	})
}

func TestPerplexityMissingBackendEmitsMinusOne(t *testing.T) {
	r := applyTag(t, "perplexity", map[string]any{"backend": "never_registered"}, "some text")
	assert.Equal(t, -1.0, row.Get(r, "perplexity"))
}

func TestPerplexityFailingLoaderEmitsMinusOne(t *testing.T) {
	RegisterModelLoader("test_failing", func(string) (*LanguageModel, error) {
		return nil, errors.New("download failed")
	})
	r := applyTag(t, "perplexity", map[string]any{"backend": "test_failing"}, "some text")
	assert.Equal(t, -1.0, row.Get(r, "perplexity"))
}

func TestPerplexityUniformModel(t *testing.T) {
	// One line, log score -6, three words -> N = 4, PP = 10^(6/4) ~ 31.6.
	registerUniformBackend(t, "test_uniform", -6)
	r := applyTag(t, "perplexity", map[string]any{"backend": "test_uniform", "language": "en"},
		"three words here")
	assert.InDelta(t, 31.6, row.Get(r, "perplexity").(float64), 0.05)
}

func TestPerplexityMultiLine(t *testing.T) {
	// Two lines at -2 each: total -4 over N = (2+1) + (1+1) = 5.
	registerUniformBackend(t, "test_uniform2", -2)
	r := applyTag(t, "perplexity", map[string]any{"backend": "test_uniform2"}, "two words\none")
	assert.InDelta(t, 6.3, row.Get(r, "perplexity").(float64), 0.05)
}

func TestPerplexityTruncation(t *testing.T) {
	registerUniformBackend(t, "test_uniform3", -1)
	long := strings.Repeat("word ", 100)
	r := applyTag(t, "perplexity", map[string]any{"backend": "test_uniform3", "max_chars": 9}, long)
	// Only "word word" survives truncation: N = 3, PP = 10^(1/3).
	assert.InDelta(t, 2.2, row.Get(r, "perplexity").(float64), 0.05)
}

func TestPerplexityConfigValidation(t *testing.T) {
	_, err := registry.Construct("tag", "perplexity", map[string]any{"language": "fr"})
	assert.Error(t, err)
	_, err = registry.Construct("tag", "perplexity", map[string]any{"punctuation": 7})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	p := &PerplexityTagger{NormalizeNumbers: true, Punctuation: 1}

	assert.Equal(t, "phone 000-0000", p.Normalize("phone 555-1234"))
	assert.Equal(t, `he said "stop"...`, p.Normalize("he said „stop”…"))

	lower := &PerplexityTagger{LowerCase: true, Punctuation: 0}
	assert.Equal(t, "shout", lower.Normalize("SHOUT"))

	accents := &PerplexityTagger{RemoveAccents: true, Punctuation: 0}
	assert.Equal(t, "uber cafe", accents.Normalize("über café"))
}

func TestNormalizeStripsControlChars(t *testing.T) {
	p := &PerplexityTagger{Punctuation: 0}
	assert.Equal(t, "ab", p.Normalize("a\x07b"))
}

func TestStripControlKeepsStructure(t *testing.T) {
	assert.Equal(t, "a\tb\nc", stripControl("a\tb\nc\x00\x1b"))
}
