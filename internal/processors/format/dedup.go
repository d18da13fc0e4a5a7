// Package format implements the map stages that rewrite the text payload:
// corpus-wide deduplication, spacing fixes, and PII masking.
package format

import (
	"context"
	"strings"
	"sync"

	"github.com/coral-nlp/llmdata/internal/dedup"
	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	"github.com/coral-nlp/llmdata/internal/stage"
)

func init() {
	registry.Register("format", "deduplication", func() any {
		split := "\n"
		return &DeduplicationFormatter{
			MapBase:         stage.MapBase{StageName: "deduplication_formatter", On: "text", To: "text"},
			BloomSize:       1_000_000,
			BloomHashes:     3,
			LSHThreshold:    0.8,
			LSHPermutations: 256,
			LSHNgramSize:    8,
			SplitChar:       &split,
		}
	})
}

// DeduplicationFormatter deletes near-duplicate paragraphs across the whole
// dataset. Every worker funnels its paragraphs through one shared
// coordinator, so the first writer of a paragraph wins and later
// near-duplicates are dropped, regardless of partition order.
type DeduplicationFormatter struct {
	stage.MapBase `yaml:",inline"`

	BloomSize       uint    `yaml:"bloom_size" validate:"gt=0"`
	BloomHashes     int     `yaml:"bloom_hashes" validate:"gt=0"`
	LSHThreshold    float64 `yaml:"lsh_threshold" validate:"gt=0,lte=1"`
	LSHPermutations int     `yaml:"lsh_permutations" validate:"gt=0"`
	LSHNgramSize    int     `yaml:"lsh_ngram_size" validate:"gt=0"`
	Seed            int64   `yaml:"seed"`

	// SplitChar separates paragraphs; null treats the whole document as a
	// single paragraph.
	SplitChar *string `yaml:"split_char"`

	startOnce sync.Once
	startErr  error
	coord     *dedup.Coordinator
}

// coordinator lazily starts the shared coordinator on first use, so
// constructing the stage for validation stays side-effect free.
func (d *DeduplicationFormatter) coordinator() (*dedup.Coordinator, error) {
	d.startOnce.Do(func() {
		d.coord, d.startErr = dedup.NewCoordinator(dedup.Params{
			Permutations: d.LSHPermutations,
			NgramSize:    d.LSHNgramSize,
			BloomBits:    d.BloomSize,
			BloomHashes:  d.BloomHashes,
			Threshold:    d.LSHThreshold,
			Seed:         d.Seed,
		})
	})
	return d.coord, d.startErr
}

// Apply implements stage.Map. Paragraph order within a document is
// preserved; a document whose every paragraph is a duplicate keeps an empty
// text field.
func (d *DeduplicationFormatter) Apply(ctx context.Context, r row.Row) (row.Row, error) {
	text := row.GetString(r, d.On)
	if text == "" {
		return r, nil
	}

	coord, err := d.coordinator()
	if err != nil {
		return nil, err
	}

	paragraphs := []string{text}
	if d.SplitChar != nil {
		paragraphs = strings.Split(text, *d.SplitChar)
	}

	var retained []string
	for _, paragraph := range paragraphs {
		inserted, err := coord.InsertIfAbsent(ctx, paragraph)
		if err != nil {
			return nil, err
		}
		if inserted {
			retained = append(retained, paragraph)
		}
	}

	switch {
	case len(retained) == 0:
		err = row.Set(r, d.To, "")
	case d.SplitChar != nil:
		err = row.Set(r, d.To, strings.Join(retained, *d.SplitChar))
	default:
		err = row.Set(r, d.To, retained[0])
	}
	return r, err
}

// Close tears down the shared coordinator.
func (d *DeduplicationFormatter) Close() error {
	if d.coord != nil {
		d.coord.Close()
	}
	return nil
}
