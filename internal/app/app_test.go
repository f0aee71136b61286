package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/config"
	"github.com/bull/docchat/internal/llm/llmtest"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 64
	cfg.Chunking.Size = 200
	cfg.Chunking.Overlap = 40
	cfg.Generation.RewriteQuery = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_PersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := offlineConfig(t)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Pipeline.IngestText(ctx, "handbook.txt", "Refunds are available within thirty days of purchase.")
	require.NoError(t, err)

	c, err := a.NewChain(llmtest.Answer("Thirty days [1]."))
	require.NoError(t, err)
	res, err := c.Answer(ctx, "s1", "when are refunds available")
	require.NoError(t, err)
	assert.True(t, res.Grounded)
	require.NoError(t, a.Close())

	reopened, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err := reopened.Knowledge.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, stats.Chunks, stats.Vectors)

	turns, err := reopened.Memory.LongTerm(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "Thirty days [1].", turns[0].Answer)
}

func TestApp_RequiresAPIKey(t *testing.T) {
	ctx := context.Background()

	t.Run("openai embeddings", func(t *testing.T) {
		cfg := offlineConfig(t)
		cfg.Embedding.Provider = "openai"
		cfg.OpenAI.APIKey = ""
		_, err := New(ctx, cfg, nil)
		assert.ErrorContains(t, err, "OPENAI_API_KEY")
	})

	t.Run("answering", func(t *testing.T) {
		cfg := offlineConfig(t)
		cfg.OpenAI.APIKey = ""
		a, err := New(ctx, cfg, nil)
		require.NoError(t, err)
		defer a.Close()

		_, err = a.Chain()
		assert.ErrorContains(t, err, "OPENAI_API_KEY")
	})
}

func TestApp_IndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := offlineConfig(t)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Pipeline.IngestText(ctx, "a.txt", "some text to index")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	cfg.Embedding.Dimensions = 32
	_, err = New(ctx, cfg, nil)
	assert.Error(t, err)
}
