package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Params configures a deduplication run.
type Params struct {
	Permutations int
	NgramSize    int
	BloomBits    uint
	BloomHashes  int
	Threshold    float64
	Seed         int64
	Prime        uint64
}

func (p Params) withDefaults() Params {
	if p.Seed == 0 {
		p.Seed = DefaultSeed
	}
	if p.Prime == 0 {
		p.Prime = DefaultPrime
	}
	return p
}

func (p Params) validate() error {
	if p.Permutations <= 0 {
		return llmerrors.NewConfigError("lsh_permutations", "> 0", fmt.Sprint(p.Permutations))
	}
	if p.NgramSize <= 0 {
		return llmerrors.NewConfigError("lsh_ngram_size", "> 0", fmt.Sprint(p.NgramSize))
	}
	if p.BloomBits == 0 {
		return llmerrors.NewConfigError("bloom_size", "> 0", "0")
	}
	if p.BloomHashes <= 0 {
		return llmerrors.NewConfigError("bloom_hashes", "> 0", fmt.Sprint(p.BloomHashes))
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		return llmerrors.NewConfigError("lsh_threshold", "in (0, 1]", fmt.Sprint(p.Threshold))
	}
	return nil
}

// Coordinator owns the Bloom matrix and serializes every membership
// decision through a single mailbox goroutine. When two workers submit
// identical (or LSH-colliding) paragraphs concurrently, exactly one
// InsertIfAbsent reports an insert: first writer wins.
type Coordinator struct {
	signature *Signature
	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
}

type request struct {
	paragraph string
	insert    bool
	snapshot  io.Writer
	reply     chan result
}

type result struct {
	matched bool
	err     error
}

// ErrClosed is returned for operations against a torn-down coordinator.
var ErrClosed = errors.New("dedup coordinator is closed")

// NewCoordinator chooses the band geometry for the parameters, allocates
// the Bloom matrix, and starts the owner goroutine.
func NewCoordinator(p Params) (*Coordinator, error) {
	return NewCoordinatorFrom(p, nil)
}

// NewCoordinatorFrom starts a coordinator over a previously restored Bloom
// matrix. A nil filter allocates a fresh one.
func NewCoordinatorFrom(p Params, filter *BandedBloom) (*Coordinator, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	bands, rows := BandGeometry(p.Permutations, p.Threshold)
	if filter == nil {
		filter = NewBandedBloom(bands, p.BloomBits, p.BloomHashes)
	} else if len(filter.bands) != bands {
		return nil, llmerrors.NewCorruptStateError(
			fmt.Errorf("restored state has %d bands, parameters require %d", len(filter.bands), bands))
	}
	c := &Coordinator{
		signature: NewSignature(p.Permutations, p.NgramSize, bands, rows, p.Seed, p.Prime),
		requests:  make(chan request),
		done:      make(chan struct{}),
	}
	go c.serve(filter)
	return c, nil
}

// Bands returns the chosen band count.
func (c *Coordinator) Bands() int { return c.signature.Bands() }

func (c *Coordinator) serve(filter *BandedBloom) {
	for {
		select {
		case req := <-c.requests:
			if req.snapshot != nil {
				req.reply <- result{err: filter.Save(req.snapshot)}
				continue
			}
			sig := c.signature.Compute(req.paragraph)
			if req.insert {
				req.reply <- result{matched: !filter.TestAndPut(sig)}
			} else {
				req.reply <- result{matched: filter.Test(sig)}
			}
		case <-c.done:
			return
		}
	}
}

// Contains reports whether the paragraph (or an LSH collision of it) has
// been inserted. The answer may be stale by the time the caller acts on it;
// use InsertIfAbsent for decisions.
func (c *Coordinator) Contains(ctx context.Context, paragraph string) (bool, error) {
	return c.call(ctx, request{paragraph: paragraph, reply: make(chan result, 1)})
}

// InsertIfAbsent atomically tests and inserts a paragraph. It returns true
// when the paragraph was newly inserted and false when it (or a colliding
// near-duplicate) was already present.
func (c *Coordinator) InsertIfAbsent(ctx context.Context, paragraph string) (bool, error) {
	return c.call(ctx, request{paragraph: paragraph, insert: true, reply: make(chan result, 1)})
}

// Snapshot serializes the Bloom state through the mailbox, so the snapshot
// is consistent with respect to concurrent inserts.
func (c *Coordinator) Snapshot(ctx context.Context, w io.Writer) error {
	_, err := c.call(ctx, request{snapshot: w, reply: make(chan result, 1)})
	return err
}

func (c *Coordinator) call(ctx context.Context, req request) (bool, error) {
	select {
	case c.requests <- req:
	case <-c.done:
		return false, llmerrors.NewCoordinatorError(ErrClosed)
	case <-ctx.Done():
		return false, llmerrors.NewCoordinatorError(ctx.Err())
	}
	select {
	case res := <-req.reply:
		return res.matched, res.err
	case <-ctx.Done():
		return false, llmerrors.NewCoordinatorError(ctx.Err())
	}
}

// Close tears down the owner goroutine. Pending callers receive a
// coordinator error; Close is idempotent.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
