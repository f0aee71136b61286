// Package docstore is the durable mapping from chunk and document identifiers
// to their text and provenance.
package docstore

import "context"

// Store persists documents and their chunks. It holds no business logic.
type Store interface {
	// PutDocument stores a document together with its chunks in one
	// transaction. It fails with ErrAlreadyExists if the ID is taken.
	PutDocument(ctx context.Context, doc *Document, chunks []Chunk) error
	// Put stores chunks of an already stored document.
	Put(ctx context.Context, chunks ...Chunk) error
	Get(ctx context.Context, id string) (*Chunk, error)
	// GetMany returns the chunks for ids in the same order. Unknown ids are skipped.
	GetMany(ctx context.Context, ids []string) ([]Chunk, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	// FindBySource returns the most recently ingested document with the given source name.
	FindBySource(ctx context.Context, source string) (*Document, error)
	// ListDocuments returns document metadata without sections, oldest first.
	ListDocuments(ctx context.Context) ([]Document, error)
	Chunks(ctx context.Context, documentID string) ([]Chunk, error)
	// DeleteDocument removes a document and its chunks, returning the removed chunk ids.
	DeleteDocument(ctx context.Context, id string) ([]string, error)
	Reset(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}
