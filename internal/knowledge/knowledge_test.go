package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/docstore"
	"github.com/bull/docchat/internal/vectorindex"
)

func newBase(t *testing.T, dims int) *Base {
	t.Helper()
	index, err := vectorindex.NewFlat(dims, vectorindex.Cosine)
	require.NoError(t, err)
	return New(index, docstore.NewMemory(), nil)
}

func document(id string, n int) (*docstore.Document, []docstore.Chunk) {
	doc := &docstore.Document{ID: id, Source: id + ".txt", IngestedAt: time.Now()}
	chunks := make([]docstore.Chunk, n)
	for i := range chunks {
		chunks[i] = docstore.Chunk{
			ID:         fmt.Sprintf("%s-%d", id, i),
			DocumentID: id,
			Position:   i,
			Text:       fmt.Sprintf("chunk %d of %s", i, id),
		}
	}
	return doc, chunks
}

func TestBase_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 2)

	doc, chunks := document("report", 3)
	vectors := [][]float32{{1, 0}, {0, 1}, {0.8, 0.2}}
	require.NoError(t, b.Add(ctx, doc, chunks, vectors))

	results, err := b.Search(ctx, []float32{1, 0}, 2, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "report-0", results[0].Chunk.ID)
	assert.Equal(t, "report.txt", results[0].Chunk.Source)
	assert.Equal(t, 0, results[0].Rank)
	assert.Equal(t, "report-2", results[1].Chunk.ID)
	assert.Equal(t, 1, results[1].Rank)
}

func TestBase_SearchEmpty(t *testing.T) {
	results, err := newBase(t, 4).Search(context.Background(), []float32{1, 0, 0, 0}, 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBase_AddDimensionMismatchKeepsNothing(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 384)

	doc, chunks := document("wide", 1)
	err := b.Add(ctx, doc, chunks, [][]float32{make([]float32, 768)})
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestBase_AddStoreFailureRollsBackIndex(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 2)

	doc, chunks := document("dup", 1)
	require.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{1, 0}}))

	_, other := document("other", 1)
	for i := range other {
		other[i].DocumentID = "dup"
	}
	err := b.Add(ctx, doc, other, [][]float32{{0, 1}})
	assert.ErrorIs(t, err, docstore.ErrAlreadyExists)

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Vectors)
}

func TestBase_Remove(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 2)

	doc, chunks := document("gone", 2)
	require.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{1, 0}, {1, 0}}))
	keep, keepChunks := document("kept", 1)
	require.NoError(t, b.Add(ctx, keep, keepChunks, [][]float32{{1, 0}}))

	n, err := b.Remove(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := b.Search(ctx, []float32{1, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept-0", results[0].Chunk.ID)

	_, err = b.Remove(ctx, "gone")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestBase_Reset(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 2)

	doc, chunks := document("a", 2)
	require.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, b.Reset(ctx))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestBase_DocumentBySource(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 2)

	doc, chunks := document("handbook", 1)
	require.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{1, 0}}))

	byID, err := b.DocumentBySource(ctx, "handbook")
	require.NoError(t, err)
	bySource, err := b.DocumentBySource(ctx, "handbook.txt")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, bySource.ID)

	_, err = b.DocumentBySource(ctx, "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestBase_PersistsFlatIndexOnAdd(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.idx")

	index, err := vectorindex.OpenFlat(path, 2, vectorindex.Cosine)
	require.NoError(t, err)
	b := New(index, docstore.NewMemory(), nil)

	doc, chunks := document("saved", 1)
	require.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{0, 1}}))

	reloaded, err := vectorindex.LoadFlat(path, 2, vectorindex.Cosine)
	require.NoError(t, err)
	n, err := reloaded.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBase_AddPersistFailureKeepsNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.idx")

	index, err := vectorindex.OpenFlat(path, 2, vectorindex.Cosine)
	require.NoError(t, err)
	b := New(index, docstore.NewMemory(), nil)

	// A non-empty directory at the index path makes the final rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	doc, chunks := document("unsaved", 2)
	err = b.Add(ctx, doc, chunks, [][]float32{{1, 0}, {0, 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist index")

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	results, err := b.Search(ctx, []float32{1, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = b.Document(ctx, "unsaved")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{1, 0}, {0, 1}}), "retry after a failed persist succeeds")
	stats, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Documents: 1, Chunks: 2, Vectors: 2}, stats)
}

func TestBase_ConcurrentReadersAndWriter(t *testing.T) {
	ctx := context.Background()
	b := newBase(t, 2)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				doc, chunks := document(fmt.Sprintf("w%d-%d", w, i), 2)
				assert.NoError(t, b.Add(ctx, doc, chunks, [][]float32{{1, 0}, {0, 1}}))
			}
		}()
	}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				results, err := b.Search(ctx, []float32{1, 0}, 5, 0.5)
				assert.NoError(t, err)
				for _, r := range results {
					assert.NotEmpty(t, r.Chunk.Text)
				}
			}
		}()
	}
	wg.Wait()

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, stats.Documents)
	assert.Equal(t, 80, stats.Chunks)
	assert.Equal(t, 80, stats.Vectors)
}
