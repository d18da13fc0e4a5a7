package format

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
)

func applyFormat(t *testing.T, typ string, params map[string]any, text string) row.Row {
	t.Helper()
	c, err := registry.Construct("format", typ, params)
	require.NoError(t, err)
	r, err := c.(interface {
		Apply(context.Context, row.Row) (row.Row, error)
	}).Apply(context.Background(), row.Row{"id": "0", "text": text})
	require.NoError(t, err)
	return r
}

func TestSpaceFormatterCollapsesWhitespace(t *testing.T) {
	r := applyFormat(t, "spacing", nil, "too   many\t\tspaces")
	assert.Equal(t, "too many spaces", row.Text(r))
}

func TestSpaceFormatterParagraphBreaks(t *testing.T) {
	r := applyFormat(t, "spacing", nil, "one\n\n\n\ntwo")
	assert.Equal(t, "one\n\ntwo", row.Text(r))
}

func TestSpaceFormatterHyphenation(t *testing.T) {
	r := applyFormat(t, "spacing", nil, "a hyphen- \nated word")
	assert.Equal(t, "a hyphenated word", row.Text(r))
}

func TestSpaceFormatterCollapsesInParagraphBreaks(t *testing.T) {
	r := applyFormat(t, "spacing", nil, "line one\nline two\n\nnext paragraph")
	assert.Equal(t, "line one line two\n\nnext paragraph", row.Text(r))
}

func TestSpaceFormatterEmptyText(t *testing.T) {
	r := applyFormat(t, "spacing", nil, "")
	assert.Equal(t, "", row.Text(r))
}

func TestRegexPIIReplacesEntities(t *testing.T) {
	text := "Contact me at john.doe@corp.example or visit https://internal.example.com/page today.\n" +
		"Card: 4012 8888 8888 1881 and server 10.1.2.3 plus IBAN DE89 3704 0044 0532 0130 00 here.\n"
	r := applyFormat(t, "pii", map[string]any{"language": "en", "flag": "metadata.pii_found"}, text)
	got := row.Text(r)

	assert.NotContains(t, got, "john.doe@corp.example")
	assert.NotContains(t, got, "4012 8888 8888 1881")
	assert.NotContains(t, got, "10.1.2.3")
	assert.NotContains(t, got, "DE89 3704 0044 0532 0130 00")
	assert.NotContains(t, got, "internal.example.com")
	assert.Contains(t, got, "name@example.com")
	assert.Contains(t, got, "192.0.2.255")
	assert.Equal(t, true, row.Get(r, "metadata.pii_found"))
}

func TestRegexPIIRedactMode(t *testing.T) {
	r := applyFormat(t, "pii", map[string]any{
		"anonymization_method": "redact",
		"entity_types":         []string{"IP_ADDRESS"},
	}, "server 10.1.2.3 is down")
	assert.Equal(t, "server  is down", row.Text(r))
}

func TestRegexPIICleanTextUnchanged(t *testing.T) {
	text := "No personal information in this sentence at all.\n"
	r := applyFormat(t, "pii", map[string]any{"flag": "metadata.pii_found"}, text)
	assert.Equal(t, text, row.Text(r))
	assert.Equal(t, false, row.Get(r, "metadata.pii_found"))
}

func TestRegexPIIRejectsUnknownEntity(t *testing.T) {
	_, err := registry.Construct("format", "pii", map[string]any{"entity_types": []string{"SSN"}})
	assert.Error(t, err)
}

func TestAnonymizerPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int64
	release := make(chan struct{})

	pool := NewAnonymizerPool(func(ctx context.Context, text string) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return text, nil
	}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Anonymize(context.Background(), "text")
			assert.NoError(t, err)
		}()
	}
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestAnonymizerPoolPropagatesErrors(t *testing.T) {
	pool := NewAnonymizerPool(func(ctx context.Context, text string) (string, error) {
		return "", errors.New("backend down")
	}, 1)
	_, err := pool.Anonymize(context.Background(), "text")
	assert.Error(t, err)
}

func TestAnonymizerPoolHonorsContext(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})
	pool := NewAnonymizerPool(func(ctx context.Context, text string) (string, error) {
		close(started)
		<-blocked
		return text, nil
	}, 1)

	go pool.Anonymize(context.Background(), "holds the slot")
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Anonymize(ctx, "cannot enter")
	assert.Error(t, err)
	close(blocked)
}
