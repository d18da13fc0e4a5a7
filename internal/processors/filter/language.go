package filter

import (
	"context"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("filter", "language", func() any {
		return &LanguageFilter{
			FilterBase:        stage.FilterBase{StageName: "language_filter", On: "metadata.language"},
			AllowedLanguages:  []string{"en"},
			MinConfidence:     0.5,
			AllowPartialMatch: true,
		}
	})
}

// LanguageFilter keeps rows whose detected languages match the allowed set
// with sufficient confidence. With AllowPartialMatch any matching detection
// suffices; without it every detection must match.
type LanguageFilter struct {
	stage.FilterBase `yaml:",inline"`

	AllowedLanguages  []string `yaml:"allowed_languages" validate:"min=1"`
	MinConfidence     float64  `yaml:"min_confidence" validate:"gte=0,lte=1"`
	AllowPartialMatch bool     `yaml:"allow_partial_match"`
}

// Keep implements stage.Filter.
func (l *LanguageFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	names := asStrings(row.Get(r, l.On+".names"))
	scores := asFloats(row.Get(r, l.On+".scores"))
	if len(names) == 0 || len(scores) == 0 {
		return l.IfMissing, nil
	}

	allowed := map[string]struct{}{}
	for _, lang := range l.AllowedLanguages {
		allowed[lang] = struct{}{}
	}

	n := min(len(names), len(scores))
	anyMatch, allMatch := false, true
	for i := 0; i < n; i++ {
		_, ok := allowed[names[i]]
		match := ok && scores[i] >= l.MinConfidence
		anyMatch = anyMatch || match
		allMatch = allMatch && match
	}
	if l.AllowPartialMatch {
		return anyMatch, nil
	}
	return allMatch, nil
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, el := range t {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asFloats(v any) []float64 {
	switch t := v.(type) {
	case float64:
		return []float64{t}
	case []float64:
		return t
	case []any:
		out := make([]float64, 0, len(t))
		for _, el := range t {
			if f, ok := asFloat(el); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		if f, ok := asFloat(v); ok {
			return []float64{f}
		}
		return nil
	}
}
