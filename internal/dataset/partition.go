// Package dataset implements the partitioned data model and the
// format-specific readers and writers that produce and consume it.
package dataset

import (
	"github.com/coral-nlp/llmdata/internal/row"
)

// Partition is an ordered batch of rows. Partitions are the unit of parallel
// work; they are unordered with respect to each other.
type Partition struct {
	Index int
	Rows  []row.Row
}

// ReadResult carries either a partition or the error that ended the stream.
type ReadResult struct {
	Partition *Partition
	Err       error
}

// ReadOptions are the pipeline-level inputs every reader honors.
type ReadOptions struct {
	// TargetBytes is the partition size target. A partition is cut when its
	// estimated encoded size reaches this value.
	TargetBytes int64
	// OverridePartitions, when positive, fixes the partition count instead
	// of the size target.
	OverridePartitions int
	// Buffer caps the number of undelivered partitions; the reader blocks
	// once the consumer falls this far behind.
	Buffer int
}

func (o ReadOptions) targetBytes() int64 {
	if o.TargetBytes > 0 {
		return o.TargetBytes
	}
	return 128 * 1024 * 1024
}

func (o ReadOptions) buffer() int {
	if o.Buffer > 0 {
		return o.Buffer
	}
	return 1
}

// WriteOptions are the pipeline-level inputs every writer honors.
type WriteOptions struct {
	// MinRowsPerFile is the row count partitions are coalesced to before an
	// output file is written; the last file of a write holds whatever rows
	// remain and may have fewer.
	MinRowsPerFile int
}

// partitionBuilder accumulates rows and cuts partitions on a byte budget.
type partitionBuilder struct {
	target int64
	index  int
	rows   []row.Row
	bytes  int64
	out    []*Partition
}

func newPartitionBuilder(target int64) *partitionBuilder {
	return &partitionBuilder{target: target}
}

func (b *partitionBuilder) add(r row.Row, size int64) {
	b.rows = append(b.rows, r)
	b.bytes += size
	if b.bytes >= b.target {
		b.cut()
	}
}

func (b *partitionBuilder) cut() {
	if len(b.rows) == 0 {
		return
	}
	b.out = append(b.out, &Partition{Index: b.index, Rows: b.rows})
	b.index++
	b.rows = nil
	b.bytes = 0
}

func (b *partitionBuilder) finish() []*Partition {
	b.cut()
	return b.out
}

// repartition splits rows evenly into n partitions, preserving order within
// each slice.
func repartition(rows []row.Row, n int) []*Partition {
	if n <= 0 || len(rows) == 0 {
		if len(rows) == 0 {
			return nil
		}
		n = 1
	}
	if n > len(rows) {
		n = len(rows)
	}
	out := make([]*Partition, 0, n)
	per := len(rows) / n
	extra := len(rows) % n
	start := 0
	for i := 0; i < n; i++ {
		size := per
		if i < extra {
			size++
		}
		out = append(out, &Partition{Index: i, Rows: rows[start : start+size]})
		start += size
	}
	return out
}
