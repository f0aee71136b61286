package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAI_NativeDimensions(t *testing.T) {
	e, err := NewOpenAI(&Client{}, OpenAIConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimensions())
	assert.False(t, e.shorten)

	e, err = NewOpenAI(&Client{}, OpenAIConfig{Model: "text-embedding-3-large", Dimensions: 256})
	require.NoError(t, err)
	assert.Equal(t, 256, e.Dimensions())
	assert.True(t, e.shorten)
}

func TestNewOpenAI_UnknownModelNeedsDimensions(t *testing.T) {
	_, err := NewOpenAI(&Client{}, OpenAIConfig{Model: "custom-model"})
	assert.Error(t, err)

	e, err := NewOpenAI(&Client{}, OpenAIConfig{Model: "custom-model", Dimensions: 768})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimensions())
}
