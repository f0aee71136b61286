// Package vectorindex stores chunk vectors and answers top-K similarity queries.
//
// Every implementation honours the same ordering contract: results are sorted
// by descending score, ties broken by earliest insertion, and only entries
// scoring at or above the threshold are returned.
package vectorindex

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
)

// Metric is the similarity function of an index, fixed for its lifetime.
type Metric string

const (
	Cosine Metric = "cosine"
	Dot    Metric = "dot"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case Cosine, Dot:
		return m, nil
	case "":
		return Cosine, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Entry is a vector bound to the identifier it was inserted under.
type Entry struct {
	ID     string
	Vector []float32
}

// Hit is one ranked search result.
type Hit struct {
	ID    string
	Score float32
}

// Index is a similarity index over fixed-dimension vectors.
type Index interface {
	Dimensions() int
	Metric() Metric
	// Insert adds entries atomically: on error none of them are added.
	Insert(ctx context.Context, entries ...Entry) error
	Search(ctx context.Context, query []float32, topK int, threshold float32) ([]Hit, error)
	// Remove deletes the given ids and reports how many were present.
	Remove(ctx context.Context, ids ...string) (int, error)
	Len(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	// Persist flushes the index to durable storage.
	Persist(ctx context.Context) error
	Close() error
}

// ranked is a scored candidate carrying its insertion sequence for tie-breaks.
type ranked struct {
	id    string
	seq   uint64
	score float32
}

// rank sorts candidates by score descending then seq ascending and keeps topK.
func rank(cands []ranked, topK int) []Hit {
	slices.SortFunc(cands, func(a, b ranked) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}

	hits := make([]Hit, len(cands))
	for i, c := range cands {
		hits[i] = Hit{ID: c.id, Score: c.score}
	}
	return hits
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func checkDims(want int, v []float32, what string) error {
	if len(v) != want {
		return fmt.Errorf("%w: %s has %d dimensions, index expects %d",
			ErrDimensionMismatch, what, len(v), want)
	}
	return nil
}
