// Package knowledge couples the vector index and the document store behind a
// single reader/writer lock. Ingestion and removal take the exclusive section;
// queries take the shared section and never block each other.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bull/docchat/internal/docstore"
	"github.com/bull/docchat/internal/vectorindex"
)

// Result is a retrieved chunk with its similarity score. Rank starts at 0.
type Result struct {
	Chunk docstore.Chunk
	Score float32
	Rank  int
}

// Stats summarizes the knowledge base.
type Stats struct {
	Documents int
	Chunks    int
	Vectors   int
}

// Base owns the vectors and chunk text of all ingested documents.
type Base struct {
	mu     sync.RWMutex
	index  vectorindex.Index
	store  docstore.Store
	logger *slog.Logger
}

func New(index vectorindex.Index, store docstore.Store, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{index: index, store: store, logger: logger}
}

// Dimensions returns the vector size the index accepts.
func (b *Base) Dimensions() int { return b.index.Dimensions() }

// Add stores a document, its chunks and one vector per chunk, then persists
// the index. Nothing is kept if any step fails.
func (b *Base) Add(ctx context.Context, doc *docstore.Document, chunks []docstore.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%d chunks but %d vectors", len(chunks), len(vectors))
	}

	entries := make([]vectorindex.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vectorindex.Entry{ID: c.ID, Vector: vectors[i]}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.index.Insert(ctx, entries...); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}

	if err := b.store.PutDocument(ctx, doc, chunks); err != nil {
		b.unindex(ctx, doc.ID, chunks)
		return fmt.Errorf("store document: %w", err)
	}

	if err := b.index.Persist(ctx); err != nil {
		b.unindex(ctx, doc.ID, chunks)
		if _, derr := b.store.DeleteDocument(ctx, doc.ID); derr != nil {
			b.logger.Error("Failed to roll back stored document", "document_id", doc.ID, "error", derr)
		}
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// unindex removes the vectors of a failed Add. Callers hold the write lock.
func (b *Base) unindex(ctx context.Context, documentID string, chunks []docstore.Chunk) {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if _, err := b.index.Remove(ctx, ids...); err != nil {
		b.logger.Error("Failed to roll back index entries", "document_id", documentID, "error", err)
	}
}

// Search returns stored chunks for the top-K vectors scoring at least
// threshold, in rank order. An empty result is not an error.
func (b *Base) Search(ctx context.Context, query []float32, topK int, threshold float32) ([]Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hits, err := b.index.Search(ctx, query, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := b.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}

	byID := make(map[string]docstore.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			b.logger.Warn("Index entry has no stored chunk", "chunk_id", h.ID)
			continue
		}
		results = append(results, Result{Chunk: c, Score: h.Score, Rank: len(results)})
	}
	return results, nil
}

// Remove deletes a document's chunks and vectors and returns how many chunks went.
func (b *Base) Remove(ctx context.Context, documentID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids, err := b.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	removed, err := b.index.Remove(ctx, ids...)
	if err != nil {
		return 0, fmt.Errorf("remove vectors: %w", err)
	}
	if removed != len(ids) {
		b.logger.Warn("Vector count differs from chunk count",
			"document_id", documentID, "chunks", len(ids), "vectors", removed)
	}
	if err := b.index.Persist(ctx); err != nil {
		return 0, fmt.Errorf("persist index: %w", err)
	}
	return len(ids), nil
}

// Reset removes every document, chunk and vector.
func (b *Base) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	if err := b.index.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return b.index.Persist(ctx)
}

func (b *Base) Document(ctx context.Context, id string) (*docstore.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.GetDocument(ctx, id)
}

// DocumentBySource resolves a document by ID first, then by source name.
func (b *Base) DocumentBySource(ctx context.Context, idOrSource string) (*docstore.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, err := b.store.GetDocument(ctx, idOrSource)
	if errors.Is(err, docstore.ErrNotFound) {
		return b.store.FindBySource(ctx, idOrSource)
	}
	return doc, err
}

func (b *Base) Documents(ctx context.Context) ([]docstore.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.ListDocuments(ctx)
}

func (b *Base) Chunks(ctx context.Context, documentID string) ([]docstore.Chunk, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Chunks(ctx, documentID)
}

func (b *Base) Stats(ctx context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	docs, err := b.store.ListDocuments(ctx)
	if err != nil {
		return Stats{}, err
	}
	vectors, err := b.index.Len(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{Documents: len(docs), Vectors: vectors}
	for _, d := range docs {
		s.Chunks += d.ChunkCount
	}
	return s, nil
}

func (b *Base) Health(ctx context.Context) error {
	return b.store.Health(ctx)
}

// Close closes the index and the store.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.index.Close(), b.store.Close())
}
