package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/coral-nlp/llmdata/internal/filesystem"
	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Writer consumes the processed partition stream and materializes it under
// the destination path. Writers are the only components that touch the
// output filesystem.
type Writer interface {
	Write(ctx context.Context, parts <-chan *Partition, dest string, opts WriteOptions) error
}

func init() {
	registry.Register("writer", "parquet", func() any { return &ParquetWriter{Compression: "snappy"} })
	registry.Register("writer", "jsonl", func() any { return &JSONLWriter{} })
	registry.Register("writer", "csv", func() any { return &CSVWriter{Delimiter: ",", IncludeHeader: true} })
}

// fileSink encodes one batch of rows into a single output file.
type fileSink func(ctx context.Context, dest string, rows []row.Row) error

// drain coalesces partitions until the min-rows hint is met and hands each
// batch to the sink. Any sink failure is terminal.
func drain(ctx context.Context, parts <-chan *Partition, dest, ext string, opts WriteOptions, sink fileSink) error {
	var pending []row.Row
	fileIndex := 0

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		name := path.Join(dest, fmt.Sprintf("part-%05d.%s", fileIndex, ext))
		if err := sink(ctx, name, pending); err != nil {
			return err
		}
		fileIndex++
		pending = nil
		return nil
	}

	for part := range parts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pending = append(pending, part.Rows...)
		if opts.MinRowsPerFile <= 0 || len(pending) >= opts.MinRowsPerFile {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// JSONLWriter writes one JSON object per line.
type JSONLWriter struct{}

// Write implements Writer.
func (jw *JSONLWriter) Write(ctx context.Context, parts <-chan *Partition, dest string, opts WriteOptions) error {
	return drain(ctx, parts, dest, "jsonl", opts, func(ctx context.Context, name string, rows []row.Row) error {
		fs, err := filesystem.ForPath(name)
		if err != nil {
			return err
		}
		w, err := fs.Create(ctx, name)
		if err != nil {
			return err
		}
		for _, r := range rows {
			data, err := json.Marshal(r)
			if err != nil {
				w.Close()
				return llmerrors.NewPermanentError("jsonl encode", name, err)
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				w.Close()
				return llmerrors.NewPermanentError("write", name, err)
			}
		}
		if err := w.Close(); err != nil {
			return llmerrors.NewPermanentError("flush", name, err)
		}
		return nil
	})
}

// CSVWriter writes delimiter-separated files. Columns are the sorted
// top-level keys of the first row; nested values are JSON-encoded.
type CSVWriter struct {
	Delimiter     string `yaml:"delimiter" validate:"omitempty,len=1"`
	IncludeHeader bool   `yaml:"include_header"`
}

// Write implements Writer.
func (cw *CSVWriter) Write(ctx context.Context, parts <-chan *Partition, dest string, opts WriteOptions) error {
	delim := ","
	if cw.Delimiter != "" {
		delim = cw.Delimiter
	}
	return drain(ctx, parts, dest, "csv", opts, func(ctx context.Context, name string, rows []row.Row) error {
		fs, err := filesystem.ForPath(name)
		if err != nil {
			return err
		}
		w, err := fs.Create(ctx, name)
		if err != nil {
			return err
		}

		columns := make([]string, 0, len(rows[0]))
		for col := range rows[0] {
			columns = append(columns, col)
		}
		sort.Strings(columns)

		var sb strings.Builder
		if cw.IncludeHeader {
			sb.WriteString(strings.Join(columns, delim))
			sb.WriteByte('\n')
		}
		for _, r := range rows {
			cells := make([]string, len(columns))
			for i, col := range columns {
				cells[i] = csvCell(r[col])
			}
			sb.WriteString(strings.Join(cells, delim))
			sb.WriteByte('\n')
		}
		if _, err := w.Write([]byte(sb.String())); err != nil {
			w.Close()
			return llmerrors.NewPermanentError("write", name, err)
		}
		if err := w.Close(); err != nil {
			return llmerrors.NewPermanentError("flush", name, err)
		}
		return nil
	})
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if strings.ContainsAny(t, ",\"\n") {
			return `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		}
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return csvCell(string(data))
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ParquetWriter writes the corpus schema columns.
type ParquetWriter struct {
	Compression string `yaml:"compression" validate:"omitempty,oneof=snappy gzip zstd uncompressed"`
}

// Write implements Writer.
func (pw *ParquetWriter) Write(ctx context.Context, parts <-chan *Partition, dest string, opts WriteOptions) error {
	return drain(ctx, parts, dest, "parquet", opts, func(ctx context.Context, name string, rows []row.Row) error {
		fs, err := filesystem.ForPath(name)
		if err != nil {
			return err
		}
		w, err := fs.Create(ctx, name)
		if err != nil {
			return err
		}

		writer := parquet.NewGenericWriter[corpusRow](w, pw.compressionOption())
		records := make([]corpusRow, len(rows))
		for i, r := range rows {
			records[i] = toCorpusRow(r)
		}
		if _, err := writer.Write(records); err != nil {
			w.Close()
			return llmerrors.NewPermanentError("parquet write", name, err)
		}
		if err := writer.Close(); err != nil {
			w.Close()
			return llmerrors.NewPermanentError("parquet close", name, err)
		}
		if err := w.Close(); err != nil {
			return llmerrors.NewPermanentError("flush", name, err)
		}
		return nil
	})
}

func (pw *ParquetWriter) compressionOption() parquet.WriterOption {
	switch pw.Compression {
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

func toCorpusRow(r row.Row) corpusRow {
	tokens, _ := row.GetFloat(r, "num_tokens")
	return corpusRow{
		ID:        row.GetString(r, "id"),
		Subset:    row.GetString(r, "subset"),
		Source:    row.GetString(r, "source"),
		Text:      row.GetString(r, "text"),
		License:   row.GetString(r, "license"),
		NumTokens: int64(tokens),
	}
}
