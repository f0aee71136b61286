//go:build integration

package vectorindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestQdrant creates a throwaway collection. Skips if Qdrant is not running.
func setupTestQdrant(t *testing.T, dims int) *Qdrant {
	t.Helper()

	q, err := NewQdrant(context.Background(), QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "test_" + uuid.NewString()[:8],
		Dimensions: dims,
		Metric:     Cosine,
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}
	t.Cleanup(func() {
		_ = q.client.DeleteCollection(context.Background(), q.collection)
		q.Close()
	})
	return q
}

func TestQdrant_InsertSearchRemove(t *testing.T) {
	q := setupTestQdrant(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Insert(ctx,
		Entry{ID: "alpha", Vector: []float32{1, 0, 0}},
		Entry{ID: "beta", Vector: []float32{1, 0, 0}},
		Entry{ID: "gamma", Vector: []float32{0, 1, 0}},
	))

	hits, err := q.Search(ctx, []float32{1, 0, 0}, 2, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alpha", hits[0].ID)
	assert.Equal(t, "beta", hits[1].ID)

	n, err := q.Remove(ctx, "alpha", "unknown")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestQdrant_DimensionMismatch(t *testing.T) {
	q := setupTestQdrant(t, 384)

	err := q.Insert(context.Background(), Entry{ID: "wide", Vector: make([]float32, 768)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrant_ReopenWithOtherDimensions(t *testing.T) {
	q := setupTestQdrant(t, 4)

	_, err := NewQdrant(context.Background(), QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: q.collection,
		Dimensions: 8,
	})
	assert.ErrorIs(t, err, ErrIncompatible)
}
