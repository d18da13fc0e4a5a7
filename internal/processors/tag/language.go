package tag

import (
	"context"
	"strings"

	"github.com/coral-nlp/llmdata/internal/langid"
	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("tag", "language", func() any {
		return &LanguageTagger{
			MapBase:   stage.MapBase{StageName: "language_tagger", On: "text", To: "metadata.language"},
			K:         1,
			MaxTokens: 4096,
		}
	})
}

// LanguageTagger detects the language of the input column and writes the
// detected codes with their confidence scores.
type LanguageTagger struct {
	stage.MapBase `yaml:",inline"`

	// Detector names a registered detection backend; empty selects the
	// builtin stop-word detector.
	Detector  string `yaml:"detector"`
	ModelPath string `yaml:"model_path"`

	K                   int     `yaml:"k" validate:"gte=1,lte=10"`
	MaxTokens           int     `yaml:"max_tokens" validate:"gt=0"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
}

// Apply implements stage.Map.
func (l *LanguageTagger) Apply(_ context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, l.On)
	if strings.TrimSpace(text) == "" {
		return r, l.write(r, langid.Unknown())
	}

	// Detectors expect a single line.
	flat := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if chars := []rune(flat); len(chars) > l.MaxTokens {
		flat = string(chars[:l.MaxTokens])
	}

	detector, err := langid.Load(l.Detector, l.ModelPath)
	if err != nil {
		return r, l.write(r, langid.Unknown())
	}
	pred, err := detector.Detect(flat, l.K)
	if err != nil {
		return r, l.write(r, langid.Unknown())
	}

	if l.ConfidenceThreshold > 0 {
		filtered := langid.Prediction{}
		for i, name := range pred.Names {
			if pred.Scores[i] >= l.ConfidenceThreshold {
				filtered.Names = append(filtered.Names, name)
				filtered.Scores = append(filtered.Scores, pred.Scores[i])
			}
		}
		if len(filtered.Names) == 0 {
			filtered = langid.Unknown()
		}
		pred = filtered
	}
	return r, l.write(r, pred)
}

func (l *LanguageTagger) write(r row.Row, pred langid.Prediction) error {
	names := make([]any, len(pred.Names))
	scores := make([]any, len(pred.Scores))
	for i := range pred.Names {
		names[i] = pred.Names[i]
		scores[i] = pred.Scores[i]
	}
	return row.Set(r, l.To, map[string]any{"names": names, "scores": scores})
}
