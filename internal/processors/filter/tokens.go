package filter

import (
	"context"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("filter", "token_count", func() any {
		return &TokenCountFilter{
			FilterBase: stage.FilterBase{StageName: "token_count_filter", On: "metadata.token_count"},
			MinTokens:  10,
		}
	})
}

// TokenCountFilter keeps rows whose token count falls inside the configured
// bounds. A nil MaxTokens means no upper limit.
type TokenCountFilter struct {
	stage.FilterBase `yaml:",inline"`

	MinTokens int  `yaml:"min_tokens" validate:"gte=0"`
	MaxTokens *int `yaml:"max_tokens" validate:"omitempty,gt=0"`
}

// Keep implements stage.Filter.
func (t *TokenCountFilter) Keep(_ context.Context, r row.Row) (bool, error) {
	count, ok := row.GetFloat(r, t.On)
	if !ok || count == 0 {
		return t.IfMissing, nil
	}
	if count < float64(t.MinTokens) {
		return false, nil
	}
	if t.MaxTokens != nil && count > float64(*t.MaxTokens) {
		return false, nil
	}
	return true, nil
}
