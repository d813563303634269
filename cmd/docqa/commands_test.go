package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := "log:\n  level: error\n  console: true\nstore:\n  driver: sqlite\n  path: " +
		filepath.Join(dir, "docqa.db") + "\n"
	path := filepath.Join(dir, "docqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProcessAskListBackfillCleanup(t *testing.T) {
	cfg, dir := writeConfig(t)
	doc := filepath.Join(dir, "x.txt")
	require.NoError(t, os.WriteFile(doc, []byte("X is a protocol for Y. It carries messages between nodes."), 0o600))

	out, err := run(t, "--config", cfg, "process", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "processed")

	out, err = run(t, "--config", cfg, "process", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "cached")

	out, err = run(t, "--config", cfg, "ask", "What", "is", "X?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "X is a protocol for Y."), out)
	assert.Contains(t, out, "[1] x.txt")

	out, err = run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_documents": 1`)

	out, err = run(t, "--config", cfg, "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "summarized 1 document(s)")

	out, err = run(t, "--config", cfg, "list", "--type", "txt")
	require.NoError(t, err)
	assert.Contains(t, out, "summary")
	assert.Contains(t, out, "x.txt")

	out, err = run(t, "--config", cfg, "list", "--type", "pdf")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, "--config", cfg, "cleanup", "--days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 document(s)")
}

func TestProcessReportsFailures(t *testing.T) {
	cfg, dir := writeConfig(t)
	out, err := run(t, "--config", cfg, "process", filepath.Join(dir, "missing.txt"))
	assert.EqualError(t, err, "1 of 1 file(s) failed")
	assert.Contains(t, out, "missing.txt")
}

func TestSummarizeNeedsOneTarget(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, err := run(t, "--config", cfg, "summarize")
	assert.ErrorContains(t, err, "exactly one of --file or --hash")
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	err := printResults(&buf, []domain.ProcessResult{
		{Path: "a.txt", Status: domain.StatusProcessed, ContentHash: strings.Repeat("a", 64), ChunkCount: 2},
		{Path: "b.exe", Err: errors.New("unsupported")},
	})
	assert.EqualError(t, err, "1 of 2 file(s) failed")
	assert.Contains(t, buf.String(), "processed  aaaaaaaaaaaa  a.txt  chunks=2")
	assert.Contains(t, buf.String(), "error      b.exe: unsupported")
}
