// Package extract holds the text extraction stages. Markup-aware
// extractors (HTML, TEI) live with the external collaborators; the plain
// pass-through is what the core pipeline needs.
package extract

import (
	"context"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("extract", "plain", func() any {
		return &PlainTextExtractor{
			MapBase: stage.MapBase{StageName: "plain_extractor", On: "text", To: "text"},
		}
	})
}

// PlainTextExtractor copies the input column to the target column verbatim.
type PlainTextExtractor struct {
	stage.MapBase `yaml:",inline"`
}

// Apply implements stage.Map.
func (p *PlainTextExtractor) Apply(_ context.Context, r row.Row) (row.Row, error) {
	return r, row.Set(r, p.To, row.Get(r, p.On))
}
