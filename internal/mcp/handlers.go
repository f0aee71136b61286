package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docchat/internal/chain"
	"github.com/bull/docchat/internal/docstore"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/indexer"
	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/memory"
)

const (
	defaultMaxResults = 5
	maxResultsLimit   = 20
)

// makeAskHandler creates the ask tool handler. The answer is collected in
// full before returning since MCP tool results are not streamed.
func makeAskHandler(c *chain.Chain) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		result, err := c.Answer(ctx, input.SessionID, input.Question)
		if err != nil {
			return nil, AskOutput{}, fmt.Errorf("ask failed: %w", err)
		}

		out := AskOutput{
			Answer:          result.Answer,
			SessionID:       result.SessionID,
			StandaloneQuery: result.StandaloneQuery,
			Grounded:        result.Grounded,
			Citations:       make([]CitationInfo, 0, len(result.Citations)),
		}
		for _, cit := range result.Citations {
			out.Citations = append(out.Citations, CitationInfo{
				Index:      cit.Index,
				DocumentID: cit.DocumentID,
				Source:     cit.Source,
				Position:   cit.Position,
				Section:    cit.Section,
				Score:      float64(cit.Score),
			})
		}
		if result.Turn != nil {
			out.Seq = result.Turn.Seq
		}
		return nil, out, nil
	}
}

// makeSearchHandler creates the search_documents tool handler.
// Search flow:
// 1. Embed the query
// 2. Search passages above the score threshold
// 3. Return up to MaxResults passages with their text
func makeSearchHandler(kb *knowledge.Base, embedder embedding.Gateway, threshold float32) func(
	context.Context, *mcp.CallToolRequest, SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
		*mcp.CallToolResult, SearchDocumentsOutput, error,
	) {
		if strings.TrimSpace(input.Query) == "" {
			return nil, SearchDocumentsOutput{}, chain.ErrEmptyQuery
		}
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxResultsLimit)
		minScore := threshold
		if input.MinScore > 0 {
			minScore = float32(input.MinScore)
		}

		vector, err := embedder.Embed(ctx, input.Query)
		if err != nil {
			return nil, SearchDocumentsOutput{}, fmt.Errorf("failed to embed query: %w", err)
		}
		hits, err := kb.Search(ctx, vector, maxResults, minScore)
		if err != nil {
			return nil, SearchDocumentsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(hits) == 0 {
			return nil, SearchDocumentsOutput{
				Results: []SearchResult{},
				Message: "No matching passages found. Try broader search terms.",
			}, nil
		}

		results := make([]SearchResult, len(hits))
		for i, h := range hits {
			results[i] = SearchResult{
				ChunkID:    h.Chunk.ID,
				DocumentID: h.Chunk.DocumentID,
				Source:     h.Chunk.Source,
				Section:    h.Chunk.Section,
				Score:      float64(h.Score),
				Text:       h.Chunk.Text,
			}
		}
		return nil, SearchDocumentsOutput{Results: results}, nil
	}
}

// makeListHandler creates the list_documents tool handler.
func makeListHandler(kb *knowledge.Base) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		docs, err := kb.Documents(ctx)
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}

		out := ListDocumentsOutput{Documents: make([]DocumentInfo, len(docs)), Count: len(docs)}
		for i := range docs {
			out.Documents[i] = documentInfo(&docs[i])
		}
		return nil, out, nil
	}
}

// makeGetDocumentHandler creates the get_document tool handler.
// Prepends source header: <!-- Source: name -->
func makeGetDocumentHandler(kb *knowledge.Base) func(
	context.Context, *mcp.CallToolRequest, GetDocumentInput,
) (*mcp.CallToolResult, GetDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentInput) (
		*mcp.CallToolResult, GetDocumentOutput, error,
	) {
		doc, err := kb.DocumentBySource(ctx, input.Document)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, GetDocumentOutput{Found: false}, nil
		}
		if err != nil {
			return nil, GetDocumentOutput{}, fmt.Errorf("failed to get document: %w", err)
		}

		source := doc.Source
		if doc.URL != "" {
			source = doc.URL
		}
		return nil, GetDocumentOutput{
			Document: documentInfo(doc),
			Content:  fmt.Sprintf("<!-- Source: %s -->\n\n%s", source, doc.Text()),
			Found:    true,
		}, nil
	}
}

// makeIngestTextHandler creates the ingest_text tool handler.
func makeIngestTextHandler(p *indexer.Pipeline) func(
	context.Context, *mcp.CallToolRequest, IngestTextInput,
) (*mcp.CallToolResult, IngestTextOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestTextInput) (
		*mcp.CallToolResult, IngestTextOutput, error,
	) {
		source := strings.TrimSpace(input.Source)
		if source == "" {
			return nil, IngestTextOutput{}, errors.New("source is required")
		}
		doc, err := p.IngestText(ctx, source, input.Text)
		if err != nil {
			return nil, IngestTextOutput{}, err
		}
		return nil, IngestTextOutput{Document: documentInfo(doc)}, nil
	}
}

// makeRemoveHandler creates the remove_document tool handler.
func makeRemoveHandler(p *indexer.Pipeline) func(
	context.Context, *mcp.CallToolRequest, RemoveDocumentInput,
) (*mcp.CallToolResult, RemoveDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RemoveDocumentInput) (
		*mcp.CallToolResult, RemoveDocumentOutput, error,
	) {
		n, err := p.Remove(ctx, input.DocumentID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, RemoveDocumentOutput{Removed: false}, nil
		}
		if err != nil {
			return nil, RemoveDocumentOutput{}, fmt.Errorf("failed to remove document: %w", err)
		}
		return nil, RemoveDocumentOutput{Removed: true, Chunks: n}, nil
	}
}

// makeHistoryHandler creates the get_history tool handler.
func makeHistoryHandler(mem *memory.Memory) func(
	context.Context, *mcp.CallToolRequest, GetHistoryInput,
) (*mcp.CallToolResult, GetHistoryOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetHistoryInput) (
		*mcp.CallToolResult, GetHistoryOutput, error,
	) {
		sessionID := input.SessionID
		if sessionID == "" {
			sessionID = chain.DefaultSession
		}

		var (
			turns []memory.Turn
			err   error
		)
		if input.All {
			turns, err = mem.LongTerm(ctx, sessionID)
		} else {
			turns, err = mem.ShortTerm(ctx, sessionID)
		}
		if err != nil {
			return nil, GetHistoryOutput{}, fmt.Errorf("failed to load history: %w", err)
		}

		out := GetHistoryOutput{SessionID: sessionID, Turns: make([]TurnInfo, len(turns))}
		for i, t := range turns {
			citations := t.Citations
			if citations == nil {
				citations = []string{}
			}
			out.Turns[i] = TurnInfo{
				Seq:       t.Seq,
				Query:     t.Query,
				Answer:    t.Answer,
				Citations: citations,
				Truncated: t.Truncated,
				CreatedAt: t.CreatedAt,
			}
		}
		return nil, out, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(kb *knowledge.Base, mem *memory.Memory) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		stats, err := kb.Stats(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("failed to read stats: %w", err)
		}
		sessions, err := mem.Sessions(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("failed to list sessions: %w", err)
		}
		return nil, StatusOutput{
			Documents: stats.Documents,
			Chunks:    stats.Chunks,
			Vectors:   stats.Vectors,
			Sessions:  len(sessions),
		}, nil
	}
}

func documentInfo(doc *docstore.Document) DocumentInfo {
	return DocumentInfo{
		ID:         doc.ID,
		Source:     doc.Source,
		Path:       doc.Path,
		URL:        doc.URL,
		Chunks:     doc.ChunkCount,
		IngestedAt: doc.IngestedAt,
	}
}
