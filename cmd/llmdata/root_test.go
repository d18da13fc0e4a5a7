package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "llmdata")
}

func TestListCommand(t *testing.T) {
	out, err := runCommand(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "tag:")
	assert.Contains(t, out, "deduplication")
	assert.Contains(t, out, "gopher_quality")
}

func TestListCategoryFilter(t *testing.T) {
	out, err := runCommand(t, "list", "--category", "writer")
	require.NoError(t, err)
	assert.Contains(t, out, "jsonl")
	assert.NotContains(t, out, "gopher_quality")
}

func TestListUnknownCategory(t *testing.T) {
	_, err := runCommand(t, "list", "--category", "bogus")
	assert.Error(t, err)
}

const validConfig = `
name: smoke
input:
  path: %s
  format: jsonl
processors:
  - category: tag
    type: length
output:
  path: %s
  format: jsonl
`

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	doc := strings.ReplaceAll(validConfig, "%s", filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	out, err := runCommand(t, "validate", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid: smoke")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("name: x\nprocessors:\n  - category: tag\n    type: ghost\n"), 0o644))

	_, err := runCommand(t, "validate", cfgPath)
	assert.Error(t, err)
}

func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jsonl")
	require.NoError(t, os.WriteFile(input,
		[]byte(`{"id":"0","text":"hello world"}`+"\n"+`{"id":"1","text":"second document"}`+"\n"), 0o644))

	outDir := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "pipeline.yaml")
	doc := "name: smoke\ninput:\n  path: " + input + "\n  format: jsonl\nprocessors:\n" +
		"  - category: tag\n    type: length\noutput:\n  path: " + outDir + "\n  format: jsonl\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	out, err := runCommand(t, "run", cfgPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "rows_in=2 rows_out=2")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	require.NoError(t, err)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &first))
	assert.Contains(t, first, "metadata")
}

func TestRunCommandMissingConfig(t *testing.T) {
	_, err := runCommand(t, "run", "/nonexistent/pipeline.yaml")
	assert.Error(t, err)
}
