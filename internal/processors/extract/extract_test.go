package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

func TestPlainExtractorCopiesField(t *testing.T) {
	c, err := registry.Construct("extract", "plain", map[string]any{"on": "raw", "to": "text"})
	require.NoError(t, err)

	out, err := c.(*PlainTextExtractor).Apply(context.Background(), row.Row{"raw": "content"})
	require.NoError(t, err)
	assert.Equal(t, "content", out["text"])
}

func TestPlainExtractorDefaults(t *testing.T) {
	c, err := registry.Construct("extract", "plain", nil)
	require.NoError(t, err)
	e := c.(*PlainTextExtractor)
	assert.Equal(t, "text", e.On)
	assert.Equal(t, "text", e.To)
}
