// Package llm is the text generation capability used to rewrite queries and
// answer them.
package llm

import (
	"context"
	"log/slog"

	"github.com/bull/docchat/internal/tokens"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role
	Content string
}

// Request is a generation request.
type Request struct {
	Messages    []Message
	MaxTokens   int // 0 uses the generator's default
	Temperature float64
}

// Generator generates text from chat messages.
type Generator interface {
	// Generate returns the complete answer.
	Generate(ctx context.Context, req Request) (string, error)

	// Stream calls onToken with each piece of the answer as it arrives and
	// returns the accumulated text. If onToken returns an error, streaming
	// stops and Stream returns the text so far with that error. On context
	// cancellation the partial text is returned with the context's error.
	Stream(ctx context.Context, req Request, onToken func(string) error) (string, error)

	// InputBudget is the number of prompt tokens a request may carry.
	InputBudget() int
}

// Truncate cuts content to at most maxTokens tokens as measured by counter,
// at a rune boundary. Content that fits is returned unchanged.
func Truncate(content string, maxTokens int, counter tokens.Counter) string {
	if maxTokens <= 0 || counter.Count(content) <= maxTokens {
		return content
	}

	runes := []rune(content)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	slog.Debug("Truncated content",
		"from_runes", len(runes), "to_runes", lo, "max_tokens", maxTokens)
	return string(runes[:lo])
}
