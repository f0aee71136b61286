package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Flat is an exact linear-scan index held in memory. It is safe for concurrent
// use and, when opened with a path, persists to a single binary file.
type Flat struct {
	mu      sync.RWMutex
	dims    int
	metric  Metric
	path    string
	nextSeq uint64
	entries []flatEntry
	byID    map[string]int
}

type flatEntry struct {
	id   string
	seq  uint64
	vec  []float32
	norm float64
}

// NewFlat creates an empty in-memory index.
func NewFlat(dims int, metric Metric) (*Flat, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("index dimensions must be positive, got %d", dims)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = Cosine
	}
	return &Flat{
		dims:   dims,
		metric: metric,
		byID:   make(map[string]int),
	}, nil
}

// OpenFlat loads the index stored at path, or creates an empty one bound to
// path if the file does not exist yet. A stored index whose dimensions or
// metric differ from the requested ones fails with ErrIncompatible.
func OpenFlat(path string, dims int, metric Metric) (*Flat, error) {
	f, err := LoadFlat(path, dims, metric)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err = NewFlat(dims, metric)
	if err != nil {
		return nil, err
	}
	f.path = path
	return f, nil
}

func (f *Flat) Dimensions() int { return f.dims }

func (f *Flat) Metric() Metric { return f.metric }

func (f *Flat) Insert(ctx context.Context, entries ...Entry) error {
	for i, e := range entries {
		if err := checkDims(f.dims, e.Vector, fmt.Sprintf("vector %q", e.ID)); err != nil {
			return err
		}
		for _, prev := range entries[:i] {
			if prev.ID == e.ID {
				return fmt.Errorf("%w: %q", ErrDuplicateID, e.ID)
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range entries {
		if _, ok := f.byID[e.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, e.ID)
		}
	}
	for _, e := range entries {
		f.appendLocked(e.ID, f.nextSeq, e.Vector)
		f.nextSeq++
	}
	return nil
}

func (f *Flat) appendLocked(id string, seq uint64, vec []float32) {
	v := make([]float32, len(vec))
	copy(v, vec)
	f.byID[id] = len(f.entries)
	f.entries = append(f.entries, flatEntry{id: id, seq: seq, vec: v, norm: norm(v)})
}

// Search scans every stored vector. Results are deterministic for a given index state.
func (f *Flat) Search(ctx context.Context, query []float32, topK int, threshold float32) ([]Hit, error) {
	if err := checkDims(f.dims, query, "query"); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	qnorm := norm(query)

	f.mu.RLock()
	defer f.mu.RUnlock()

	var cands []ranked
	for _, e := range f.entries {
		score := f.score(query, qnorm, e)
		if score < threshold {
			continue
		}
		cands = append(cands, ranked{id: e.id, seq: e.seq, score: score})
	}
	return rank(cands, topK), nil
}

func (f *Flat) score(query []float32, qnorm float64, e flatEntry) float32 {
	d := dot(query, e.vec)
	if f.metric == Dot {
		return float32(d)
	}
	if qnorm == 0 || e.norm == 0 {
		return 0
	}
	return float32(d / (qnorm * e.norm))
}

func (f *Flat) Remove(ctx context.Context, ids ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := f.byID[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}

	kept := f.entries[:0]
	for _, e := range f.entries {
		if _, ok := drop[e.id]; !ok {
			kept = append(kept, e)
		}
	}
	clear(f.entries[len(kept):])
	f.entries = kept

	f.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		f.byID[e.id] = i
	}
	return len(drop), nil
}

func (f *Flat) Len(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries), nil
}

// Reset removes all entries. The insertion sequence keeps counting.
func (f *Flat) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	f.byID = make(map[string]int)
	return nil
}

// Persist writes the index to the path it was opened with. Indexes created
// with NewFlat have no path and Persist is a no-op.
func (f *Flat) Persist(ctx context.Context) error {
	if f.path == "" {
		return nil
	}
	return f.Save(f.path)
}

func (f *Flat) Close() error { return nil }
