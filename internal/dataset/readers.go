package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/coral-nlp/llmdata/internal/filesystem"
	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Reader produces a stream of partitions from one or more URIs. Readers
// never mutate rows; they only emit.
type Reader interface {
	Read(ctx context.Context, paths []string, opts ReadOptions) (<-chan ReadResult, error)
}

func init() {
	registry.Register("reader", "parquet", func() any { return &ParquetReader{} })
	registry.Register("reader", "jsonl", func() any { return &JSONLReader{} })
	registry.Register("reader", "csv", func() any { return &CSVReader{Delimiter: ",", Header: true} })
	registry.Register("reader", "text", func() any { return &TextReader{} })
}

// stream runs the per-file loader over every path, cutting partitions on the
// byte target (or repartitioning when an override is set), and delivers them
// with backpressure.
func stream(
	ctx context.Context,
	paths []string,
	opts ReadOptions,
	load func(ctx context.Context, path string, b *partitionBuilder) error,
) (<-chan ReadResult, error) {
	expanded, err := filesystem.Expand(paths)
	if err != nil {
		return nil, err
	}
	if len(expanded) == 0 {
		return nil, llmerrors.NewConfigError("input.path", "at least one input file", "none")
	}

	out := make(chan ReadResult, opts.buffer())
	go func() {
		defer close(out)
		builder := newPartitionBuilder(opts.targetBytes())
		for _, path := range expanded {
			if err := load(ctx, path, builder); err != nil {
				select {
				case out <- ReadResult{Err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
		parts := builder.finish()
		if opts.OverridePartitions > 0 {
			var all []row.Row
			for _, p := range parts {
				all = append(all, p.Rows...)
			}
			parts = repartition(all, opts.OverridePartitions)
		}
		for _, p := range parts {
			select {
			case out <- ReadResult{Partition: p}:
			case <-ctx.Done():
				select {
				case out <- ReadResult{Err: ctx.Err()}:
				default:
				}
				return
			}
		}
	}()
	return out, nil
}

func openAll(ctx context.Context, path string) ([]byte, error) {
	fs, err := filesystem.ForPath(path)
	if err != nil {
		return nil, err
	}
	rc, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, llmerrors.NewTransientError("read", path, err)
	}
	return data, nil
}

// corpusRow is the projected LLM-corpus parquet schema.
type corpusRow struct {
	ID        string `parquet:"id,optional"`
	Subset    string `parquet:"subset,optional"`
	Source    string `parquet:"source,optional"`
	Text      string `parquet:"text,optional"`
	License   string `parquet:"license,optional"`
	NumTokens int64  `parquet:"num_tokens,optional"`
}

func (c corpusRow) toRow() row.Row {
	return row.Row{
		"id":         c.ID,
		"subset":     c.Subset,
		"source":     c.Source,
		"text":       c.Text,
		"license":    c.License,
		"num_tokens": c.NumTokens,
	}
}

// ParquetReader reads parquet files, eagerly projecting the corpus schema.
type ParquetReader struct {
	BatchSize int `yaml:"batch_size" validate:"omitempty,gt=0"`
}

// Read implements Reader.
func (pr *ParquetReader) Read(ctx context.Context, paths []string, opts ReadOptions) (<-chan ReadResult, error) {
	batch := pr.BatchSize
	if batch <= 0 {
		batch = 1024
	}
	return stream(ctx, paths, opts, func(ctx context.Context, path string, b *partitionBuilder) error {
		data, err := openAll(ctx, path)
		if err != nil {
			return err
		}
		reader := parquet.NewGenericReader[corpusRow](bytes.NewReader(data))
		defer reader.Close()

		buf := make([]corpusRow, batch)
		for {
			n, err := reader.Read(buf)
			for i := 0; i < n; i++ {
				b.add(buf[i].toRow(), int64(len(buf[i].Text))+64)
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return llmerrors.NewPermanentError("parquet read", path, err)
			}
		}
	})
}

// JSONLReader reads newline-delimited JSON objects.
type JSONLReader struct{}

// Read implements Reader.
func (jr *JSONLReader) Read(ctx context.Context, paths []string, opts ReadOptions) (<-chan ReadResult, error) {
	return stream(ctx, paths, opts, func(ctx context.Context, path string, b *partitionBuilder) error {
		data, err := openAll(ctx, path)
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			var r row.Row
			if err := json.Unmarshal(raw, &r); err != nil {
				return llmerrors.NewPermanentError("jsonl decode", fmt.Sprintf("%s:%d", path, line), err)
			}
			b.add(r, int64(len(raw)))
		}
		if err := scanner.Err(); err != nil {
			return llmerrors.NewPermanentError("jsonl scan", path, err)
		}
		return nil
	})
}

// CSVReader reads delimiter-separated files. With Header set, the first
// record names the fields; otherwise Names must be provided.
type CSVReader struct {
	Delimiter string   `yaml:"delimiter" validate:"omitempty,len=1"`
	Header    bool     `yaml:"header"`
	Names     []string `yaml:"names"`
}

// Read implements Reader.
func (cr *CSVReader) Read(ctx context.Context, paths []string, opts ReadOptions) (<-chan ReadResult, error) {
	if !cr.Header && len(cr.Names) == 0 {
		return nil, llmerrors.NewConfigError("reader.csv", "header or explicit column names", "neither")
	}
	return stream(ctx, paths, opts, func(ctx context.Context, path string, b *partitionBuilder) error {
		data, err := openAll(ctx, path)
		if err != nil {
			return err
		}
		reader := csv.NewReader(bytes.NewReader(data))
		if cr.Delimiter != "" {
			reader.Comma = rune(cr.Delimiter[0])
		}
		reader.FieldsPerRecord = -1

		names := cr.Names
		first := true
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return llmerrors.NewPermanentError("csv read", path, err)
			}
			if first && cr.Header {
				names = record
				first = false
				continue
			}
			first = false
			r := row.Row{}
			size := int64(0)
			for i, value := range record {
				if i >= len(names) {
					break
				}
				r[names[i]] = value
				size += int64(len(value))
			}
			b.add(r, size)
		}
	})
}

// TextReader reads plain text files line by line; each line becomes a row
// with a single text field.
type TextReader struct{}

// Read implements Reader.
func (tr *TextReader) Read(ctx context.Context, paths []string, opts ReadOptions) (<-chan ReadResult, error) {
	return stream(ctx, paths, opts, func(ctx context.Context, path string, b *partitionBuilder) error {
		data, err := openAll(ctx, path)
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			b.add(row.Row{"text": line}, int64(len(line)))
		}
		if err := scanner.Err(); err != nil {
			return llmerrors.NewPermanentError("text scan", path, err)
		}
		return nil
	})
}
