package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	DefaultBatchSize = 64
)

// modelDimensions holds native output sizes of known OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI embedding adapter.
type OpenAIConfig struct {
	Model      string
	Dimensions int // 0 uses the model's native size
	BatchSize  int
}

// OpenAI embeds text through the OpenAI embeddings API.
// It batches requests and retries with exponential backoff on rate limit errors.
type OpenAI struct {
	client     *Client
	model      string
	dimensions int
	shorten    bool
	batchSize  int
}

// NewOpenAI creates an OpenAI embedding gateway.
func NewOpenAI(client *Client, cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	native, known := modelDimensions[cfg.Model]
	dims := cfg.Dimensions
	if dims <= 0 {
		if !known {
			return nil, fmt.Errorf("embedding model %q: dimensions must be configured", cfg.Model)
		}
		dims = native
	}

	return &OpenAI{
		client:     client,
		model:      cfg.Model,
		dimensions: dims,
		shorten:    cfg.Dimensions > 0 && cfg.Model != "text-embedding-ada-002",
		batchSize:  cfg.BatchSize,
	}, nil
}

func (e *OpenAI) Dimensions() int { return e.dimensions }

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of the configured size, preserving order.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vecs, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vecs...)
	}

	return all, nil
}

// embedBatchWithRetry retries with exponential backoff on rate limit errors (HTTP 429).
// Other errors are treated as permanent and fail immediately.
func (e *OpenAI) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.shorten {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
		}

		// Data carries an explicit index; order by it rather than by position.
		embeddings = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(texts) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", data.Index))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return embeddings, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// The API returns float64, but the index stores float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
