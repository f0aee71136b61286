package vectorindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlat(t *testing.T, dims int, metric Metric) *Flat {
	t.Helper()
	f, err := NewFlat(dims, metric)
	require.NoError(t, err)
	return f
}

func TestFlat_SearchOrdersByScore(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Cosine)

	require.NoError(t, f.Insert(ctx,
		Entry{ID: "east", Vector: []float32{1, 0}},
		Entry{ID: "north", Vector: []float32{0, 1}},
		Entry{ID: "north-east", Vector: []float32{1, 1}},
	))

	hits, err := f.Search(ctx, []float32{1, 0.1}, 10, -1)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "east", hits[0].ID)
	assert.Equal(t, "north-east", hits[1].ID)
	assert.Equal(t, "north", hits[2].ID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestFlat_TiesBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 3, Cosine)

	for i := range 5 {
		require.NoError(t, f.Insert(ctx, Entry{ID: fmt.Sprintf("dup-%d", i), Vector: []float32{0, 2, 0}}))
	}

	hits, err := f.Search(ctx, []float32{0, 1, 0}, 3, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"dup-0", "dup-1", "dup-2"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
}

func TestFlat_ThresholdAndTopK(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Cosine)

	require.NoError(t, f.Insert(ctx,
		Entry{ID: "a", Vector: []float32{1, 0}},
		Entry{ID: "b", Vector: []float32{0.9, 0.1}},
		Entry{ID: "c", Vector: []float32{0, 1}},
	))

	hits, err := f.Search(ctx, []float32{1, 0}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, float32(0.7))
	}

	hits, err = f.Search(ctx, []float32{1, 0}, 1, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestFlat_EmptyIndexReturnsEmpty(t *testing.T) {
	f := newFlat(t, 4, Cosine)

	hits, err := f.Search(context.Background(), []float32{1, 2, 3, 4}, 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFlat_DimensionMismatchLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 384, Cosine)
	require.NoError(t, f.Insert(ctx, Entry{ID: "ok", Vector: make([]float32, 384)}))

	err := f.Insert(ctx,
		Entry{ID: "fine", Vector: make([]float32, 384)},
		Entry{ID: "wide", Vector: make([]float32, 768)},
	)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	n, err := f.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.Search(ctx, make([]float32, 768), 1, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlat_DuplicateID(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Dot)
	require.NoError(t, f.Insert(ctx, Entry{ID: "x", Vector: []float32{1, 0}}))

	assert.ErrorIs(t, f.Insert(ctx, Entry{ID: "x", Vector: []float32{0, 1}}), ErrDuplicateID)
	assert.ErrorIs(t, f.Insert(ctx,
		Entry{ID: "y", Vector: []float32{0, 1}},
		Entry{ID: "y", Vector: []float32{0, 1}},
	), ErrDuplicateID)
}

func TestFlat_DotMetric(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Dot)
	require.NoError(t, f.Insert(ctx,
		Entry{ID: "short", Vector: []float32{1, 0}},
		Entry{ID: "long", Vector: []float32{3, 0}},
	))

	hits, err := f.Search(ctx, []float32{2, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "long", hits[0].ID)
	assert.Equal(t, float32(6), hits[0].Score)
}

func TestFlat_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 8, Cosine)
	for i := range 50 {
		v := make([]float32, 8)
		for j := range v {
			v[j] = float32((i*7+j*3)%11) - 5
		}
		require.NoError(t, f.Insert(ctx, Entry{ID: fmt.Sprintf("e%02d", i), Vector: v}))
	}

	query := []float32{1, -2, 3, -4, 5, -1, 2, 0}
	first, err := f.Search(ctx, query, 10, -1)
	require.NoError(t, err)
	for range 5 {
		again, err := f.Search(ctx, query, 10, -1)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFlat_RemoveKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Cosine)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, f.Insert(ctx, Entry{ID: id, Vector: []float32{1, 1}}))
	}

	n, err := f.Remove(ctx, "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.Insert(ctx, Entry{ID: "b", Vector: []float32{1, 1}}))

	hits, err := f.Search(ctx, []float32{1, 1}, 10, 0)
	require.NoError(t, err)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"a", "c", "d", "b"}, ids)
}

func TestFlat_ZeroVectorScoresZero(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Cosine)
	require.NoError(t, f.Insert(ctx, Entry{ID: "zero", Vector: []float32{0, 0}}))

	hits, err := f.Search(ctx, []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, float32(0), hits[0].Score)
}

func TestFlat_Reset(t *testing.T) {
	ctx := context.Background()
	f := newFlat(t, 2, Cosine)
	require.NoError(t, f.Insert(ctx, Entry{ID: "a", Vector: []float32{1, 0}}))
	require.NoError(t, f.Reset(ctx))

	n, err := f.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, f.Insert(ctx, Entry{ID: "a", Vector: []float32{1, 0}}))
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, Cosine, m)

	m, err = ParseMetric("dot")
	require.NoError(t, err)
	assert.Equal(t, Dot, m)

	_, err = ParseMetric("euclid")
	assert.Error(t, err)
}
