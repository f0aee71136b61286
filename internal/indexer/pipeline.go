package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docchat/internal/chunker"
	"github.com/bull/docchat/internal/docstore"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/parser"
)

// DefaultBatchSize is how many chunks are sent to the embedding gateway per call.
const DefaultBatchSize = 64

// IndexResult contains statistics about a bulk ingestion.
type IndexResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	FailedDocs     []FailedDoc
	Revision       string
	Duration       time.Duration
}

// FailedDoc represents a document that failed to ingest.
type FailedDoc struct {
	Path   string
	Reason string
}

// Document is pre-parsed text ready for ingestion.
type Document struct {
	Source    string // Display name, e.g. "Q1 report.pdf"
	Path      string
	URL       string
	CommitSHA string
	Sections  []parser.Section
}

// Pipeline turns documents into chunks, embeds them and adds them to the knowledge base.
type Pipeline struct {
	chunker   *chunker.Chunker
	parsers   *parser.Registry
	embedder  embedding.Gateway
	kb        *knowledge.Base
	batchSize int
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets how many chunks are embedded per gateway call.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates an ingestion pipeline with the given components.
func NewPipeline(
	chunker *chunker.Chunker,
	parsers *parser.Registry,
	embedder embedding.Gateway,
	kb *knowledge.Base,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		chunker:   chunker,
		parsers:   parsers,
		embedder:  embedder,
		kb:        kb,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest chunks, embeds and stores a pre-parsed document.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (*docstore.Document, error) {
	fail := func(stage string, err error) error {
		return &IngestionError{Source: doc.Source, Stage: stage, Err: err}
	}

	sections := make([]docstore.Section, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		sections = append(sections, docstore.Section{Label: s.Label, Text: s.Text})
	}
	if len(sections) == 0 {
		return nil, fail("chunk", ErrEmptyDocument)
	}

	stored := &docstore.Document{
		ID:         uuid.New().String(),
		Source:     doc.Source,
		Path:       doc.Path,
		URL:        doc.URL,
		CommitSHA:  doc.CommitSHA,
		Sections:   sections,
		IngestedAt: time.Now().UTC(),
	}

	chunks := p.split(stored)
	p.logger.Debug("Chunked document", "source", doc.Source, "chunks", len(chunks))

	vectors, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, fail("embed", err)
	}

	if err := p.kb.Add(ctx, stored, chunks, vectors); err != nil {
		return nil, fail("store", err)
	}
	stored.ChunkCount = len(chunks)

	p.logger.Info("Indexed document", "source", doc.Source, "document_id", stored.ID, "chunks", len(chunks))
	return stored, nil
}

// split chunks the document's joined text and labels each chunk with the
// section its first unit falls in.
func (p *Pipeline) split(doc *docstore.Document) []docstore.Chunk {
	text := doc.Text()

	offsets := make([]int, len(doc.Sections))
	byteOffset := 0
	for i, s := range doc.Sections {
		offsets[i] = byteOffset
		byteOffset += len(s.Text) + len(docstore.SectionSeparator)
	}
	starts := p.chunker.Locate(text, offsets)

	segments := p.chunker.Chunk(text)
	chunks := make([]docstore.Chunk, len(segments))
	section := 0
	for i, seg := range segments {
		for section+1 < len(starts) && starts[section+1] <= seg.Start {
			section++
		}
		chunks[i] = docstore.Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Source:     doc.Source,
			Position:   seg.Index,
			Start:      seg.Start,
			End:        seg.End,
			Overlap:    seg.Overlap,
			Section:    doc.Sections[section].Label,
			Text:       seg.Text,
		}
	}
	return chunks
}

// embed embeds chunks in batches. Chunks under a header are embedded with
// their header path prepended for retrieval context.
func (p *Pipeline) embed(ctx context.Context, chunks []docstore.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))

	for i := 0; i < len(chunks); i += p.batchSize {
		end := min(i+p.batchSize, len(chunks))

		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, EmbeddingText(c))
		}

		batch, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbeddingText is the text embedded for a chunk.
func EmbeddingText(c docstore.Chunk) string {
	if strings.HasPrefix(c.Section, "#") {
		return c.Section + "\n\n" + c.Text
	}
	return c.Text
}

// IngestText ingests a single block of plain text under the given source name.
func (p *Pipeline) IngestText(ctx context.Context, source, text string) (*docstore.Document, error) {
	sections, err := parser.PlainText{}.Parse([]byte(text))
	if err != nil {
		return nil, &IngestionError{Source: source, Stage: "parse", Err: err}
	}
	return p.Ingest(ctx, Document{Source: source, Sections: sections})
}

// IngestFile parses the file at path with the registered parser for its extension.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*docstore.Document, error) {
	sections, err := p.parsers.ParseFile(path)
	if err != nil {
		return nil, &IngestionError{Source: path, Stage: "parse", Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return p.Ingest(ctx, Document{
		Source:   filepath.Base(path),
		Path:     abs,
		Sections: sections,
	})
}

// ReplaceFile ingests path and then removes any earlier document ingested
// from the same path. The old version stays searchable until the new one is stored.
func (p *Pipeline) ReplaceFile(ctx context.Context, path string) (*docstore.Document, error) {
	doc, err := p.IngestFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := p.removeOlder(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (p *Pipeline) removeOlder(ctx context.Context, doc *docstore.Document) error {
	docs, err := p.kb.Documents(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID == doc.ID || d.Path == "" || d.Path != doc.Path || d.Source != doc.Source {
			continue
		}
		if _, err := p.kb.Remove(ctx, d.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("remove previous version %s: %w", d.ID, err)
		}
		p.logger.Info("Removed previous version", "path", d.Path, "document_id", d.ID)
	}
	return nil
}

// RemovePath removes every document ingested from path.
func (p *Pipeline) RemovePath(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	docs, err := p.kb.Documents(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, d := range docs {
		if d.Path != abs {
			continue
		}
		if _, err := p.kb.Remove(ctx, d.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// IngestAll fetches every document from src and ingests it. Documents that
// fail are reported in the result and do not stop the run.
func (p *Pipeline) IngestAll(ctx context.Context, src Source) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	revision, err := src.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	result.Revision = revision
	p.logger.Info("Starting ingestion", "revision", revision)

	paths, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("Found documents", "count", len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc, err := p.processDocument(ctx, src, path, revision)
		if err != nil {
			p.logger.Warn("Failed to ingest document", "path", path, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: path, Reason: err.Error()})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += doc.ChunkCount
	}

	result.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) processDocument(ctx context.Context, src Source, path, revision string) (*docstore.Document, error) {
	raw, err := src.Fetch(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	p.logger.Debug("Fetched document", "path", path, "size", len(raw.Content))

	sections, err := p.parsers.Parse(raw.Path, raw.Content)
	if err != nil {
		return nil, &IngestionError{Source: raw.Name, Stage: "parse", Err: err}
	}

	commit := raw.CommitSHA
	if commit == "" {
		commit = revision
	}
	doc, err := p.Ingest(ctx, Document{
		Source:    raw.Name,
		Path:      raw.Path,
		URL:       raw.URL,
		CommitSHA: commit,
		Sections:  sections,
	})
	if err != nil {
		return nil, err
	}

	// Remote documents are identified by source name, so a re-run replaces them.
	if raw.URL != "" {
		if err := p.removeOlder(ctx, doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// IngestDir ingests every supported file under root. Files ingested earlier
// from the same paths are replaced.
func (p *Pipeline) IngestDir(ctx context.Context, root string) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	paths, err := (&DirSource{Root: root, Parsers: p.parsers}).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("Found documents", "root", root, "count", len(paths))

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc, err := p.ReplaceFile(ctx, filepath.Join(root, rel))
		if err != nil {
			p.logger.Warn("Failed to ingest document", "path", rel, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: rel, Reason: err.Error()})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += doc.ChunkCount
	}

	result.Duration = time.Since(start)
	p.logger.Info("Ingestion complete",
		"root", root,
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// Supports reports whether a parser is registered for path.
func (p *Pipeline) Supports(path string) bool {
	return p.parsers.Supports(path)
}

// Remove deletes a document and its chunks from the knowledge base.
func (p *Pipeline) Remove(ctx context.Context, documentID string) (int, error) {
	n, err := p.kb.Remove(ctx, documentID)
	if err != nil {
		return 0, err
	}
	p.logger.Info("Removed document", "document_id", documentID, "chunks", n)
	return n, nil
}
