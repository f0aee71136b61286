package docstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is a Store kept entirely in process memory.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	order  []string // document ids in insertion order
	chunks map[string]Chunk
	byDoc  map[string][]string // chunk ids per document, by position
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.docs = make(map[string]*Document)
	m.order = nil
	m.chunks = make(map[string]Chunk)
	m.byDoc = make(map[string][]string)
}

func (m *Memory) PutDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	}
	for _, c := range chunks {
		if _, ok := m.chunks[c.ID]; ok {
			return fmt.Errorf("chunk %s already stored", c.ID)
		}
	}

	stored := *doc
	stored.Sections = slices.Clone(doc.Sections)
	stored.ChunkCount = len(chunks)
	m.docs[doc.ID] = &stored
	m.order = append(m.order, doc.ID)
	m.putLocked(chunks)
	return nil
}

func (m *Memory) Put(ctx context.Context, chunks ...Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		if _, ok := m.docs[c.DocumentID]; !ok {
			return fmt.Errorf("document %s: %w", c.DocumentID, ErrNotFound)
		}
		if _, ok := m.chunks[c.ID]; ok {
			return fmt.Errorf("chunk %s already stored", c.ID)
		}
	}
	m.putLocked(chunks)
	for _, docID := range distinctDocuments(chunks) {
		m.docs[docID].ChunkCount = len(m.byDoc[docID])
	}
	return nil
}

func (m *Memory) putLocked(chunks []Chunk) {
	for _, c := range chunks {
		c.Source = m.docs[c.DocumentID].Source
		m.chunks[c.ID] = c

		ids := append(m.byDoc[c.DocumentID], c.ID)
		slices.SortStableFunc(ids, func(a, b string) int {
			return m.chunks[a].Position - m.chunks[b].Position
		})
		m.byDoc[c.DocumentID] = ids
	}
}

func (m *Memory) Get(ctx context.Context, id string) (*Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *Memory) GetMany(ctx context.Context, ids []string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	out := *doc
	out.Sections = slices.Clone(doc.Sections)
	return &out, nil
}

func (m *Memory) FindBySource(ctx context.Context, source string) (*Document, error) {
	m.mu.RLock()
	var id string
	for i := len(m.order) - 1; i >= 0; i-- {
		if m.docs[m.order[i]].Source == source {
			id = m.order[i]
			break
		}
	}
	m.mu.RUnlock()

	if id == "" {
		return nil, fmt.Errorf("document %q: %w", source, ErrNotFound)
	}
	return m.GetDocument(ctx, id)
}

func (m *Memory) ListDocuments(ctx context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]Document, 0, len(m.order))
	for _, id := range m.order {
		doc := *m.docs[id]
		doc.Sections = nil
		docs = append(docs, doc)
	}
	return docs, nil
}

func (m *Memory) Chunks(ctx context.Context, documentID string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byDoc[documentID]
	chunks := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		chunks = append(chunks, m.chunks[id])
	}
	return chunks, nil
}

func (m *Memory) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	removed := m.byDoc[id]
	for _, cid := range removed {
		delete(m.chunks, cid)
	}
	delete(m.byDoc, id)
	delete(m.docs, id)
	m.order = slices.DeleteFunc(m.order, func(d string) bool { return d == id })
	return removed, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) Health(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
