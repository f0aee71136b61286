//go:build integration

package embedding

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOpenAI(t *testing.T, dims int) *OpenAI {
	t.Helper()

	client, err := NewClient(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"))
	if err != nil {
		t.Skipf("OpenAI not configured: %v", err)
	}
	e, err := NewOpenAI(client, OpenAIConfig{Dimensions: dims, BatchSize: 2})
	require.NoError(t, err)
	return e
}

func TestOpenAI_EmbedBatchPreservesOrder(t *testing.T) {
	e := setupOpenAI(t, 256)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{"alpha", "beta", "gamma", "alpha"}
	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for _, v := range vecs {
		assert.Len(t, v, 256)
	}
	assert.InDeltaSlice(t, vecs[0], vecs[3], 1e-3)
}
