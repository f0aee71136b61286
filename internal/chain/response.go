package chain

import (
	"context"

	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/memory"
)

// Citation attributes part of an answer to a retrieved passage. Index is the
// passage number [n] used in the prompt; Position is the chunk's ordinal
// within its document.
type Citation struct {
	Index      int     `json:"index"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Position   int     `json:"chunk_position"`
	Section    string  `json:"section,omitempty"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

func citations(results []knowledge.Result) []Citation {
	out := make([]Citation, len(results))
	for i, r := range results {
		out[i] = Citation{
			Index:      i + 1,
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Source:     r.Chunk.Source,
			Position:   r.Chunk.Position,
			Section:    r.Chunk.Section,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		}
	}
	return out
}

// Result is the outcome of one question.
type Result struct {
	SessionID       string
	Query           string
	StandaloneQuery string
	Answer          string

	// Citations are the passages included in the prompt, in rank order.
	Citations []Citation

	// Grounded is false when no passage made it into the prompt.
	Grounded bool

	// Truncated is set when the answer was cancelled mid-stream.
	Truncated bool

	// Turn is the recorded conversation turn, nil if none was recorded.
	Turn *memory.Turn

	Prompt *Prompt
}

// CitedChunkIDs returns the chunk IDs of the citations.
func (r *Result) CitedChunkIDs() []string {
	ids := make([]string, len(r.Citations))
	for i, c := range r.Citations {
		ids[i] = c.ChunkID
	}
	return ids
}

// Response streams an answer in progress.
type Response struct {
	ctx    context.Context
	cancel context.CancelFunc
	tokens chan string
	done   chan struct{}

	result *Result
	err    error
}

func newResponse(parent context.Context, buffer int, result *Result) *Response {
	ctx, cancel := context.WithCancel(parent)
	return &Response{
		ctx:    ctx,
		cancel: cancel,
		tokens: make(chan string, buffer),
		done:   make(chan struct{}),
		result: result,
	}
}

func (r *Response) finish() {
	close(r.tokens)
	close(r.done)
	r.cancel()
}

// Tokens yields the answer as it is generated and is closed when generation
// ends. Generation pauses while the buffer is full, so callers must either
// drain it, call Wait or call Cancel.
func (r *Response) Tokens() <-chan string { return r.tokens }

// Citations returns the passages the answer is based on. They are known
// before the first token.
func (r *Response) Citations() []Citation { return r.result.Citations }

// Grounded reports whether any passage was found.
func (r *Response) Grounded() bool { return r.result.Grounded }

// StandaloneQuery is the query used for retrieval after rewriting.
func (r *Response) StandaloneQuery() string { return r.result.StandaloneQuery }

// Cancel stops generation. The partial answer is recorded as a truncated turn.
func (r *Response) Cancel() { r.cancel() }

// Done is closed once the answer is finished and recorded.
func (r *Response) Done() <-chan struct{} { return r.done }

// Wait discards any tokens not yet read and blocks until generation ends.
// A cancelled answer returns both the truncated Result and an error wrapping
// context.Canceled. Other failures return a nil Result.
func (r *Response) Wait() (*Result, error) {
	for range r.tokens {
	}
	<-r.done

	if r.err != nil && !r.result.Truncated {
		return nil, r.err
	}
	return r.result, r.err
}
