package tag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

func applyTag(t *testing.T, typ string, params map[string]any, text string) row.Row {
	t.Helper()
	c, err := registry.Construct("tag", typ, params)
	require.NoError(t, err)
	r, err := c.(interface {
		Apply(context.Context, row.Row) (row.Row, error)
	}).Apply(context.Background(), row.Row{"id": "0", "text": text})
	require.NoError(t, err)
	return r
}

func statsOf(t *testing.T, r row.Row, field string) map[string]any {
	t.Helper()
	stats, ok := row.Get(r, field).(map[string]any)
	require.True(t, ok, field)
	return stats
}

func TestGopherRepetitionPureDuplicates(t *testing.T) {
	r := applyTag(t, "gopher_repetition", nil, "A\n\nA\n\nA")
	stats := statsOf(t, r, "metadata.gopher_repetition")

	assert.InDelta(t, 2.0/3.0, stats["dup_para_frac"].(float64), 1e-9)
	assert.InDelta(t, 2.0/3.0, stats["dup_line_frac"].(float64), 1e-9)
	// Char fractions divide by the raw text length (7 runes here).
	assert.InDelta(t, 2.0/7.0, stats["dup_para_char_frac"].(float64), 1e-9)
}

func TestGopherRepetitionEmptyText(t *testing.T) {
	r := applyTag(t, "gopher_repetition", nil, "")
	stats := statsOf(t, r, "metadata.gopher_repetition")

	for key, value := range stats {
		assert.Equal(t, 0.0, value, key)
	}
	// All configured n-gram fields are present even for empty input.
	assert.Contains(t, stats, "top_2_gram_char_frac")
	assert.Contains(t, stats, "dup_10_gram_char_frac")
}

func TestGopherRepetitionNoDuplicates(t *testing.T) {
	r := applyTag(t, "gopher_repetition", nil, "every word here is completely unique today")
	stats := statsOf(t, r, "metadata.gopher_repetition")
	assert.Equal(t, 0.0, stats["dup_para_frac"])
	assert.Equal(t, 0.0, stats["dup_line_frac"])
}

func TestGopherRepetitionTopNGram(t *testing.T) {
	// "x y" appears three times; the top 2-gram covers
	// len("x y") * 3 = 9 characters of the 15-character text.
	text := "x y a x y b x y"
	r := applyTag(t, "gopher_repetition", map[string]any{"top_n_grams": []int{2}, "dup_n_grams": []int{}}, text)
	stats := statsOf(t, r, "metadata.gopher_repetition")
	assert.InDelta(t, 9.0/15.0, stats["top_2_gram_char_frac"].(float64), 1e-9)
}

func TestGopherRepetitionDupNGramGreedyScan(t *testing.T) {
	// The 2-gram "a b" repeats; the greedy scan counts the second
	// non-overlapping occurrence ("ab" joined, 2 chars).
	text := "a b c a b"
	r := applyTag(t, "gopher_repetition", map[string]any{"top_n_grams": []int{}, "dup_n_grams": []int{2}}, text)
	stats := statsOf(t, r, "metadata.gopher_repetition")
	assert.InDelta(t, 2.0/9.0, stats["dup_2_gram_char_frac"].(float64), 1e-9)
}

func TestGopherQualityBasicStats(t *testing.T) {
	text := "the quick brown fox jumps over that lazy dog with style and # grace"
	r := applyTag(t, "gopher_quality", map[string]any{"language": "en"}, text)
	stats := statsOf(t, r, "metadata.gopher_quality")

	// 14 words, one of which is pure punctuation ("#").
	assert.Equal(t, 13, stats["word_count"])
	assert.InDelta(t, 1.0/14.0, stats["hash_ratio"].(float64), 1e-9)
	// Stop words present: the, that, with, and.
	assert.Equal(t, 4, stats["stop_word_count"])
	assert.InDelta(t, 13.0/14.0, stats["alpha_word_ratio"].(float64), 1e-9)
}

func TestGopherQualityLines(t *testing.T) {
	text := "- first bullet\nplain line\n• second bullet\ntrailing dots...\n"
	r := applyTag(t, "gopher_quality", map[string]any{"language": "en"}, text)
	stats := statsOf(t, r, "metadata.gopher_quality")

	// Five lines including the trailing empty one.
	assert.InDelta(t, 2.0/5.0, stats["bullet_line_ratio"].(float64), 1e-9)
	assert.InDelta(t, 1.0/5.0, stats["ellipsis_line_ratio"].(float64), 1e-9)
}

func TestGopherQualityEmptyText(t *testing.T) {
	r := applyTag(t, "gopher_quality", map[string]any{"language": "de"}, "")
	stats := statsOf(t, r, "metadata.gopher_quality")
	assert.Equal(t, 0, stats["word_count"])
	assert.Equal(t, 0.0, stats["avg_word_length"])
	assert.Equal(t, 0, stats["stop_word_count"])
}

func TestGopherQualityGermanStopWords(t *testing.T) {
	r := applyTag(t, "gopher_quality", map[string]any{"language": "de"},
		"der hund und die katze sind in dem haus")
	stats := statsOf(t, r, "metadata.gopher_quality")
	// der, und, die, sind, in, dem
	assert.Equal(t, 6, stats["stop_word_count"])
}

func TestGopherQualityAvgWordLength(t *testing.T) {
	r := applyTag(t, "gopher_quality", map[string]any{"language": "en"}, "ab abcd")
	stats := statsOf(t, r, "metadata.gopher_quality")
	assert.InDelta(t, 3.0, stats["avg_word_length"].(float64), 1e-9)
}
