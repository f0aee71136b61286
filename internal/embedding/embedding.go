// Package embedding maps text to fixed-length vectors.
package embedding

import "context"

// Gateway embeds text with a single model of fixed output dimensionality.
// EmbedBatch returns vectors in input order.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
