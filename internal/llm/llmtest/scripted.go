// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bull/docchat/internal/llm"
)

// Scripted is a Generator that replays fixed output and records requests.
type Scripted struct {
	// Tokens are streamed in order by Stream.
	Tokens []string

	// Rewrite is returned by Generate.
	Rewrite string

	GenerateErr error

	// StreamErr is returned by Stream after ErrAfter tokens.
	StreamErr error
	ErrAfter  int

	// TokenDelay is waited before each streamed token.
	TokenDelay time.Duration

	// Hold, if set, blocks Stream after HoldAfter tokens until it is closed
	// or the context ends.
	Hold      chan struct{}
	HoldAfter int

	// Budget is returned by InputBudget; 0 means unlimited.
	Budget int

	mu        sync.Mutex
	generated []llm.Request
	streamed  []llm.Request
}

var _ llm.Generator = (*Scripted)(nil)

// Answer returns a Scripted that streams answer word by word.
func Answer(answer string) *Scripted {
	return &Scripted{Tokens: SplitWords(answer)}
}

// SplitWords splits s into tokens that concatenate back to s.
func SplitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

func (s *Scripted) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.generated = append(s.generated, req)
	s.mu.Unlock()

	if s.GenerateErr != nil {
		return "", s.GenerateErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Rewrite, nil
}

func (s *Scripted) Stream(ctx context.Context, req llm.Request, onToken func(string) error) (string, error) {
	s.mu.Lock()
	s.streamed = append(s.streamed, req)
	s.mu.Unlock()

	var sb strings.Builder
	for i, tok := range s.Tokens {
		if s.StreamErr != nil && i == s.ErrAfter {
			return sb.String(), s.StreamErr
		}
		if s.Hold != nil && i == s.HoldAfter {
			select {
			case <-s.Hold:
			case <-ctx.Done():
				return sb.String(), ctx.Err()
			}
		}
		if s.TokenDelay > 0 {
			select {
			case <-time.After(s.TokenDelay):
			case <-ctx.Done():
				return sb.String(), ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}

		sb.WriteString(tok)
		if err := onToken(tok); err != nil {
			return sb.String(), err
		}
	}
	if s.StreamErr != nil && s.ErrAfter >= len(s.Tokens) {
		return sb.String(), s.StreamErr
	}
	return sb.String(), nil
}

func (s *Scripted) InputBudget() int {
	if s.Budget <= 0 {
		return 1 << 30
	}
	return s.Budget
}

// Generated returns the requests passed to Generate.
func (s *Scripted) Generated() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.generated...)
}

// Streamed returns the requests passed to Stream.
func (s *Scripted) Streamed() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.streamed...)
}
