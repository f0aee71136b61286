package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docchat/internal/chain"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/indexer"
	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/memory"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	deps   *Config
}

// Config holds server dependencies.
type Config struct {
	Knowledge *knowledge.Base
	Pipeline  *indexer.Pipeline
	Chain     *chain.Chain
	Memory    *memory.Memory
	Embedder  embedding.Gateway

	// Threshold is the default minimum score for search_documents.
	Threshold float32
	Version   string
	Logger    *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "docchat",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the uploaded documents with numbered citations. Pass the same session_id for follow-up questions.",
	}, makeAskHandler(cfg.Chain))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the uploaded documents. Returns matching passages with scores.",
	}, makeSearchHandler(cfg.Knowledge, cfg.Embedder, cfg.Threshold))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List all uploaded documents.",
	}, makeListHandler(cfg.Knowledge))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Retrieve the full text of an uploaded document by ID or source name.",
	}, makeGetDocumentHandler(cfg.Knowledge))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_text",
		Description: "Add a plain text document to the knowledge base.",
	}, makeIngestTextHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_document",
		Description: "Remove an uploaded document and its passages.",
	}, makeRemoveHandler(cfg.Pipeline))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_history",
		Description: "Show the conversation history of a session.",
	}, makeHistoryHandler(cfg.Memory))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get document, passage and session counts.",
	}, makeStatusHandler(cfg.Knowledge, cfg.Memory))

	return &Server{server: server, deps: cfg}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
