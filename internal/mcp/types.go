// Package mcp exposes the document chat over the Model Context Protocol and
// plain HTTP.
package mcp

import "time"

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	// Question is the natural-language question.
	Question string `json:"question" jsonschema:"The question to answer from the uploaded documents"`
	// SessionID keeps conversational context across calls.
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation identifier; questions in the same session share history"`
}

// AskOutput contains a grounded answer.
type AskOutput struct {
	Answer          string         `json:"answer"`
	SessionID       string         `json:"session_id"`
	StandaloneQuery string         `json:"standalone_query,omitempty"`
	Grounded        bool           `json:"grounded"`
	Citations       []CitationInfo `json:"citations"`
	Seq             int64          `json:"seq"`
}

// CitationInfo is a passage an answer is based on.
type CitationInfo struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Position   int     `json:"chunk_position"`
	Section    string  `json:"section,omitempty"`
	Score      float64 `json:"score"`
}

// SearchDocumentsInput defines the input parameters for the search_documents tool.
type SearchDocumentsInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"The semantic search query"`
	// MaxResults is the maximum number of passages to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"Maximum number of passages to return (default 5, at most 20)"`
	// MinScore is the minimum similarity.
	MinScore float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity score; defaults to the configured threshold"`
}

// SearchDocumentsOutput contains the search results.
type SearchDocumentsOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// SearchResult is a single passage match.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Section    string  `json:"section,omitempty"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// ListDocumentsInput takes no parameters.
type ListDocumentsInput struct{}

// ListDocumentsOutput lists ingested documents.
type ListDocumentsOutput struct {
	Documents []DocumentInfo `json:"documents"`
	Count     int            `json:"count"`
}

// DocumentInfo describes an ingested document.
type DocumentInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Path       string    `json:"path,omitempty"`
	URL        string    `json:"url,omitempty"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// GetDocumentInput defines the input parameters for the get_document tool.
type GetDocumentInput struct {
	// Document is an ID or source name.
	Document string `json:"document" jsonschema:"Document ID or source name as shown by list_documents"`
}

// GetDocumentOutput contains a document's text.
type GetDocumentOutput struct {
	Document DocumentInfo `json:"document"`
	// Content is the full text with a source header prepended.
	Content string `json:"content"`
	// Found indicates whether the document exists.
	Found bool `json:"found"`
}

// IngestTextInput defines the input parameters for the ingest_text tool.
type IngestTextInput struct {
	Source string `json:"source" jsonschema:"Name the document is cited by"`
	Text   string `json:"text" jsonschema:"Plain text content of the document"`
}

// IngestTextOutput describes the stored document.
type IngestTextOutput struct {
	Document DocumentInfo `json:"document"`
}

// RemoveDocumentInput defines the input parameters for the remove_document tool.
type RemoveDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"ID of the document to remove"`
}

// RemoveDocumentOutput reports what was removed.
type RemoveDocumentOutput struct {
	Removed bool `json:"removed"`
	Chunks  int  `json:"chunks"`
}

// GetHistoryInput defines the input parameters for the get_history tool.
type GetHistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"Conversation identifier"`
	// All returns the full log instead of the recent window.
	All bool `json:"all,omitempty" jsonschema:"Return the whole history instead of the recent window"`
}

// GetHistoryOutput lists conversation turns, oldest first.
type GetHistoryOutput struct {
	SessionID string     `json:"session_id"`
	Turns     []TurnInfo `json:"turns"`
}

// TurnInfo is one recorded question and answer.
type TurnInfo struct {
	Seq       int64     `json:"seq"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Citations []string  `json:"citations"`
	Truncated bool      `json:"truncated,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput summarizes the knowledge base and conversations.
type StatusOutput struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Vectors   int `json:"vectors"`
	Sessions  int `json:"sessions"`
}
