package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-nlp/llmdata/internal/registry"
	"github.com/coral-nlp/llmdata/internal/row"
	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

func collect(t *testing.T, results <-chan ReadResult) []*Partition {
	t.Helper()
	var parts []*Partition
	for res := range results {
		require.NoError(t, res.Err)
		parts = append(parts, res.Partition)
	}
	return parts
}

func allRows(parts []*Partition) []row.Row {
	var rows []row.Row
	for _, p := range parts {
		rows = append(rows, p.Rows...)
	}
	return rows
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestJSONLReader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "in.jsonl", `{"id":"0","text":"alpha"}
{"id":"1","text":"beta","metadata":{"lang":"en"}}

{"id":"2","text":"gamma"}
`)

	results, err := (&JSONLReader{}).Read(context.Background(), []string{path}, ReadOptions{})
	require.NoError(t, err)
	rows := allRows(collect(t, results))

	require.Len(t, rows, 3)
	assert.Equal(t, "alpha", rows[0]["text"])
	assert.Equal(t, "en", row.Get(rows[1], "metadata.lang"))
}

func TestJSONLReaderBadLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.jsonl", "{\"id\":\"0\"}\nnot json\n")

	results, err := (&JSONLReader{}).Read(context.Background(), []string{path}, ReadOptions{})
	require.NoError(t, err)

	var sawErr error
	for res := range results {
		if res.Err != nil {
			sawErr = res.Err
		}
	}
	require.Error(t, sawErr)
	assert.Equal(t, llmerrors.KindPermanent, llmerrors.Classify(sawErr))
}

func TestPartitionSizeTarget(t *testing.T) {
	dir := t.TempDir()
	content := ""
	for i := 0; i < 100; i++ {
		content += `{"id":"x","text":"0123456789012345678901234567890123456789"}` + "\n"
	}
	path := writeFile(t, dir, "in.jsonl", content)

	results, err := (&JSONLReader{}).Read(context.Background(), []string{path}, ReadOptions{TargetBytes: 600})
	require.NoError(t, err)
	parts := collect(t, results)

	assert.Greater(t, len(parts), 5)
	assert.Len(t, allRows(parts), 100)
}

func TestOverridePartitionCount(t *testing.T) {
	dir := t.TempDir()
	content := ""
	for i := 0; i < 10; i++ {
		content += `{"id":"x","text":"t"}` + "\n"
	}
	path := writeFile(t, dir, "in.jsonl", content)

	results, err := (&JSONLReader{}).Read(context.Background(), []string{path}, ReadOptions{OverridePartitions: 4})
	require.NoError(t, err)
	parts := collect(t, results)

	require.Len(t, parts, 4)
	total := 0
	for _, p := range parts {
		assert.NotEmpty(t, p.Rows)
		total += len(p.Rows)
	}
	assert.Equal(t, 10, total)
}

func TestCSVReaderWithHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "in.csv", "id,text\n0,hello\n1,world\n")

	results, err := (&CSVReader{Delimiter: ",", Header: true}).Read(context.Background(), []string{path}, ReadOptions{})
	require.NoError(t, err)
	rows := allRows(collect(t, results))

	require.Len(t, rows, 2)
	assert.Equal(t, "hello", rows[0]["text"])
	assert.Equal(t, "1", rows[1]["id"])
}

func TestCSVReaderExplicitNames(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "in.csv", "0|hello\n")

	reader := &CSVReader{Delimiter: "|", Names: []string{"id", "text"}}
	results, err := reader.Read(context.Background(), []string{path}, ReadOptions{})
	require.NoError(t, err)
	rows := allRows(collect(t, results))

	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0]["text"])
}

func TestCSVReaderRequiresColumns(t *testing.T) {
	_, err := (&CSVReader{}).Read(context.Background(), []string{"in.csv"}, ReadOptions{})
	assert.Equal(t, llmerrors.KindConfig, llmerrors.Classify(err))
}

func TestTextReader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "in.txt", "first line\nsecond line\n")

	results, err := (&TextReader{}).Read(context.Background(), []string{path}, ReadOptions{})
	require.NoError(t, err)
	rows := allRows(collect(t, results))

	require.Len(t, rows, 2)
	assert.Equal(t, "first line", rows[0]["text"])
}

func TestReaderGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"id":"a"}`+"\n")
	writeFile(t, dir, "b.jsonl", `{"id":"b"}`+"\n")

	results, err := (&JSONLReader{}).Read(context.Background(), []string{filepath.Join(dir, "*.jsonl")}, ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, allRows(collect(t, results)), 2)
}

func TestReaderRejectsRemoteGlob(t *testing.T) {
	_, err := (&JSONLReader{}).Read(context.Background(), []string{"s3://bucket/*.jsonl"}, ReadOptions{})
	assert.Equal(t, llmerrors.KindConfig, llmerrors.Classify(err))
}

func TestReaderRegistryConstruction(t *testing.T) {
	for _, typ := range []string{"parquet", "jsonl", "csv", "text"} {
		c, err := registry.Construct("reader", typ, nil)
		require.NoError(t, err, typ)
		_, ok := c.(Reader)
		assert.True(t, ok, typ)
	}
}
