package dedup

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

func testParams() Params {
	return Params{
		Permutations: 64,
		NgramSize:    3,
		BloomBits:    1 << 16,
		BloomHashes:  3,
		Threshold:    0.8,
	}
}

func TestInsertIfAbsentFirstWriterWins(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	paragraph := "an identical paragraph submitted by many workers at once"

	var inserted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.InsertIfAbsent(ctx, paragraph)
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, inserted.Load())
}

func TestContainsAfterInsert(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	seen, err := c.Contains(ctx, "never inserted before paragraph content")
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := c.InsertIfAbsent(ctx, "never inserted before paragraph content")
	require.NoError(t, err)
	assert.True(t, ok)

	seen, err = c.Contains(ctx, "never inserted before paragraph content")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestNearDuplicateCollides(t *testing.T) {
	p := testParams()
	p.NgramSize = 2
	c, err := NewCoordinator(p)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	base := "the quick brown fox jumps over the lazy dog and keeps going until the very end of the line " +
		"where it meets another fox that has been waiting patiently all morning for a chance to race " +
		"across the wide open field toward the distant row of trees standing along the river bank"
	ok, err := c.InsertIfAbsent(ctx, base)
	require.NoError(t, err)
	require.True(t, ok)

	// Trailing punctuation leaves nearly all shingles identical.
	ok, err = c.InsertIfAbsent(ctx, base+".")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDistinctParagraphsInsert(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for _, paragraph := range []string{
		"completely original first paragraph about storage engines",
		"a second paragraph concerned with compiler design instead",
		"the third one discusses the migratory patterns of birds",
	} {
		ok, err := c.InsertIfAbsent(ctx, paragraph)
		require.NoError(t, err)
		assert.True(t, ok, paragraph)
	}
}

func TestCoordinatorClosed(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)
	c.Close()
	c.Close() // idempotent

	_, err = c.InsertIfAbsent(context.Background(), "anything")
	assert.Equal(t, llmerrors.KindTransient, llmerrors.Classify(err))
}

func TestCoordinatorHonorsContext(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.InsertIfAbsent(ctx, "anything")
	assert.Error(t, err)
}

func TestParamValidation(t *testing.T) {
	for _, mutate := range []func(*Params){
		func(p *Params) { p.Permutations = 0 },
		func(p *Params) { p.NgramSize = 0 },
		func(p *Params) { p.BloomBits = 0 },
		func(p *Params) { p.BloomHashes = 0 },
		func(p *Params) { p.Threshold = 0 },
		func(p *Params) { p.Threshold = 1.5 },
	} {
		p := testParams()
		mutate(&p)
		_, err := NewCoordinator(p)
		assert.Equal(t, llmerrors.KindConfig, llmerrors.Classify(err))
	}
}

func TestSnapshotRestore(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.InsertIfAbsent(ctx, "a paragraph that must survive the snapshot")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.Snapshot(ctx, &buf))
	c.Close()

	filter, err := LoadBloom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	restored, err := NewCoordinatorFrom(testParams(), filter)
	require.NoError(t, err)
	defer restored.Close()

	seen, err := restored.Contains(ctx, "a paragraph that must survive the snapshot")
	require.NoError(t, err)
	assert.True(t, seen)

	ok, err := restored.InsertIfAbsent(ctx, "a paragraph that must survive the snapshot")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadBloomRejectsCorruption(t *testing.T) {
	c, err := NewCoordinator(testParams())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.Snapshot(context.Background(), &buf))
	c.Close()

	data := buf.Bytes()
	data[len(data)/2] ^= 0xFF

	_, err = LoadBloom(bytes.NewReader(data))
	assert.Equal(t, llmerrors.KindPermanent, llmerrors.Classify(err))

	_, err = LoadBloom(bytes.NewReader([]byte("short")))
	assert.Equal(t, llmerrors.KindPermanent, llmerrors.Classify(err))
}
