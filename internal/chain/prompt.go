package chain

import (
	"fmt"
	"strings"

	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/llm"
	"github.com/bull/docchat/internal/memory"
	"github.com/bull/docchat/internal/tokens"
)

// DefaultSystemPrompt instructs the model to answer from numbered passages.
const DefaultSystemPrompt = `You answer questions about the user's uploaded documents.
Use the numbered context passages below and cite them inline as [n].
If the passages do not contain the answer, say that the documents do not cover it.`

// NoContextNotice starts every answer given without supporting passages.
const NoContextNotice = "No supporting context was found in the uploaded documents."

// messageOverhead approximates the per-message framing tokens of chat APIs.
const messageOverhead = 4

// Prompt is an assembled generation request with what it contains.
type Prompt struct {
	Messages []llm.Message

	// Chunks are the passages included, in rank order. Passage [n] in the
	// prompt is Chunks[n-1].
	Chunks   []knowledge.Result
	Recalled []memory.Turn
	History  []memory.Turn

	Tokens int
	Budget int

	DroppedChunks   int
	DroppedTurns    int
	DroppedRecalled int
}

// Fits reports whether the prompt is within its budget.
func (p *Prompt) Fits() bool { return p.Budget <= 0 || p.Tokens <= p.Budget }

type promptInput struct {
	system   string
	chunks   []knowledge.Result
	recalled []memory.Turn // best first
	history  []memory.Turn // oldest first
	query    string
}

// assemble builds the prompt and trims it to budget. Recalled turns go
// first, then the lowest-ranked passages, then the oldest window turns. The
// query is always kept, so a prompt may still exceed a tiny budget.
func assemble(in promptInput, budget int, counter tokens.Counter) *Prompt {
	p := &Prompt{
		Chunks:   in.chunks,
		Recalled: in.recalled,
		History:  in.history,
		Budget:   budget,
	}

	for {
		p.Messages = render(in.system, p.Chunks, p.Recalled, p.History, in.query)
		p.Tokens = countMessages(p.Messages, counter)
		if p.Fits() {
			return p
		}

		switch {
		case len(p.Recalled) > 0:
			p.Recalled = p.Recalled[:len(p.Recalled)-1]
			p.DroppedRecalled++
		case len(p.Chunks) > 0:
			p.Chunks = p.Chunks[:len(p.Chunks)-1]
			p.DroppedChunks++
		case len(p.History) > 0:
			p.History = p.History[1:]
			p.DroppedTurns++
		default:
			return p
		}
	}
}

func render(system string, chunks []knowledge.Result, recalled, history []memory.Turn, query string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(system)

	sb.WriteString("\n\n")
	if len(chunks) == 0 {
		sb.WriteString("No passages from the uploaded documents matched this question and the user has been told so. " +
			"Answer only if general knowledge suffices, and say that the answer does not come from their documents.")
	} else {
		sb.WriteString("Context from the uploaded documents:\n")
		for i, r := range chunks {
			fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, sourceLabel(r), r.Chunk.Text)
		}
	}

	if len(recalled) > 0 {
		sb.WriteString("\nReference conversation history:\n")
		for _, t := range recalled {
			fmt.Fprintf(&sb, "\nQ: %s\nA: %s\n", t.Query, t.Answer)
		}
	}

	msgs := make([]llm.Message, 0, 2+2*len(history))
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: strings.TrimRight(sb.String(), "\n")})
	for _, t := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.Query},
			llm.Message{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: query})
}

func sourceLabel(r knowledge.Result) string {
	if r.Chunk.Section == "" {
		return r.Chunk.Source
	}
	return r.Chunk.Source + " > " + r.Chunk.Section
}

func countMessages(msgs []llm.Message, counter tokens.Counter) int {
	n := 0
	for _, m := range msgs {
		n += messageOverhead + counter.Count(m.Content)
	}
	return n
}
