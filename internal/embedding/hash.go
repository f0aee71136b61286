package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a local, deterministic embedder based on signed feature hashing of
// lowercased words and word bigrams. It needs no network access and is used
// for offline operation and tests. Texts sharing vocabulary score higher.
type Hash struct {
	dims int
}

// NewHash creates a hashing embedder producing vectors of the given size.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 256
	}
	return &Hash{dims: dims}
}

func (h *Hash) Dimensions() int { return h.dims }

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vecs[i] = h.vector(text)
	}
	return vecs, nil
}

func (h *Hash) vector(text string) []float32 {
	vec := make([]float32, h.dims)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()

	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
