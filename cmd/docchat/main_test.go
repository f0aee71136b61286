package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/app"
	"github.com/bull/docchat/internal/chain"
	"github.com/bull/docchat/internal/llm/llmtest"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()
	t.Setenv("DOCCHAT_DATA_DIR", dataDir)
	t.Setenv("DOCCHAT_EMBEDDING_PROVIDER", "hash")
	t.Setenv("DOCCHAT_CHUNK_SIZE", "200")
	t.Setenv("DOCCHAT_CHUNK_OVERLAP", "40")
	t.Setenv("DOCCHAT_REWRITE_QUERY", "false")
	t.Setenv("LOG_LEVEL", "error")
	return dataDir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		historyAll = false
		resetYes = false
		askSession = chain.DefaultSession
	}()

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refunds.md"),
		[]byte("# Refunds\n\nAnnual plans are refundable within thirty days of purchase."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parking.txt"),
		[]byte("Staff park in lot B behind the warehouse."), 0o644))
	return dir
}

func scriptedChain(t *testing.T, answer string) {
	t.Helper()
	prev := chainFor
	chainFor = func(a *app.App) (*chain.Chain, error) { return a.NewChain(llmtest.Answer(answer)) }
	t.Cleanup(func() { chainFor = prev })
}

func TestIngestListAndStatus(t *testing.T) {
	setupEnv(t)
	dir := writeDocs(t)

	out, err := execute(t, "", "ingest", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Documents: 2/2")

	// Re-ingesting replaces rather than duplicates.
	_, err = execute(t, "", "ingest", filepath.Join(dir, "parking.txt"))
	require.NoError(t, err)

	out, err = execute(t, "", "documents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "refunds.md")
	assert.Contains(t, out, "parking.txt")

	out, err = execute(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents: 2")

	out, err = execute(t, "", "search", "refundable annual plans")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] refunds.md")
}

func TestIngest_MissingPath(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "ingest", filepath.Join(t.TempDir(), "nope.md"))
	assert.Error(t, err)
}

func TestAskAndHistory(t *testing.T) {
	setupEnv(t)
	scriptedChain(t, "Within thirty days [1].")

	_, err := execute(t, "", "ingest", writeDocs(t))
	require.NoError(t, err)

	out, err := execute(t, "", "ask", "-s", "cli", "are", "annual", "plans", "refundable")
	require.NoError(t, err)
	assert.Contains(t, out, "Within thirty days [1].")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "refunds.md #0", "sources name the cited chunk position")

	out, err = execute(t, "", "history", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "Q: are annual plans refundable")
	assert.Contains(t, out, "A: Within thirty days [1].")

	out, err = execute(t, "", "history", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "cli")

	out, err = execute(t, "", "history", "clear", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 turns")
}

func TestAsk_Interactive(t *testing.T) {
	setupEnv(t)
	scriptedChain(t, "Lot B.")

	_, err := execute(t, "", "ingest", writeDocs(t))
	require.NoError(t, err)

	out, err := execute(t, "where do staff park?\n\nwhere exactly?\nexit\n", "ask", "-s", "repl")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Lot B."))

	out, err = execute(t, "", "history", "repl")
	require.NoError(t, err)
	assert.Contains(t, out, "#2")
}

func TestReset(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "ingest", writeDocs(t))
	require.NoError(t, err)

	out, err := execute(t, "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	out, err = execute(t, "", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Knowledge base cleared.")

	out, err = execute(t, "", "documents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents ingested.")
}
