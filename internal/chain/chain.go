// Package chain answers questions over the knowledge base. Each question
// moves through Idle, QueryReceived, Retrieving, Assembling, Generating,
// Streaming and Completed, or ends in Errored. The answer streams to the
// caller token by token and the finished turn is recorded in conversation
// memory.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/knowledge"
	"github.com/bull/docchat/internal/llm"
	"github.com/bull/docchat/internal/memory"
	"github.com/bull/docchat/internal/tokens"
)

// DefaultSession is used when a question has no session ID.
const DefaultSession = "default"

const (
	DefaultTopK         = 4
	DefaultRecallK      = 3
	DefaultStreamBuffer = 64

	// rewriteAnswerTokens caps each prior answer shown to the rewriter.
	rewriteAnswerTokens = 200
)

// Config holds the per-question parameters of a Chain.
type Config struct {
	TopK      int
	Threshold float32

	// RecallK is how many turns beyond the short-term window are recalled
	// from long-term memory. 0 disables recall.
	RecallK int

	MaxTokens   int
	Temperature float64

	// RewriteQuery turns follow-up questions into standalone ones using the
	// short-term window before retrieval.
	RewriteQuery bool

	// GenerationTimeout bounds rewriting and answering. 0 disables it.
	GenerationTimeout time.Duration

	StreamBuffer int
	SystemPrompt string
}

func (c *Config) validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top-k must be positive, got %d", ErrInvalidConfiguration, c.TopK)
	}
	if c.Threshold < -1 || c.Threshold > 1 {
		return fmt.Errorf("%w: similarity threshold %v outside [-1, 1]", ErrInvalidConfiguration, c.Threshold)
	}
	if c.RecallK < 0 {
		return fmt.Errorf("%w: recall count must not be negative", ErrInvalidConfiguration)
	}
	if c.GenerationTimeout < 0 {
		return fmt.Errorf("%w: generation timeout must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

// Chain answers questions using a knowledge base, conversation memory and a
// generator. It is safe for concurrent use; questions in different sessions
// proceed independently.
type Chain struct {
	kb        *knowledge.Base
	embedder  embedding.Gateway
	memory    *memory.Memory
	generator llm.Generator
	counter   tokens.Counter
	cfg       Config
	logger    *slog.Logger
	observe   TransitionFunc
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCounter sets the token counter used for prompt budgeting.
// Defaults to tokens.Estimate.
func WithCounter(counter tokens.Counter) Option {
	return func(c *Chain) {
		if counter != nil {
			c.counter = counter
		}
	}
}

// WithTransitionFunc registers an observer of state changes.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(c *Chain) { c.observe = fn }
}

// New creates a Chain. The embedder must be the one the knowledge base was
// built with.
func New(kb *knowledge.Base, embedder embedding.Gateway, mem *memory.Memory, generator llm.Generator, cfg Config, opts ...Option) (*Chain, error) {
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = DefaultStreamBuffer
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if embedder.Dimensions() != kb.Dimensions() {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, index expects %d",
			ErrInvalidConfiguration, embedder.Dimensions(), kb.Dimensions())
	}

	c := &Chain{
		kb:        kb,
		embedder:  embedder,
		memory:    mem,
		generator: generator,
		counter:   tokens.Estimate{},
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// run tracks one question through the state machine.
type run struct {
	chain     *Chain
	sessionID string
	state     State
	started   time.Time
}

func (r *run) to(s State) {
	from := r.state
	r.state = s
	r.chain.logger.Debug("Chain transition",
		"session", r.sessionID,
		"from", from.String(),
		"to", s.String(),
	)
	if r.chain.observe != nil {
		r.chain.observe(Transition{SessionID: r.sessionID, From: from, To: s})
	}
}

func (r *run) fail(err error) error {
	r.to(Errored)
	r.chain.logger.Error("Question failed",
		"session", r.sessionID,
		"error", err,
		"transient", IsTransient(err),
		"duration", time.Since(r.started),
	)
	return err
}

// Ask starts answering query in the given session. Retrieval and prompt
// assembly happen before Ask returns; generation continues in the background
// and streams through the returned Response.
//
// If the context is cancelled or Response.Cancel is called while the answer
// streams, the partial answer is recorded as a truncated turn.
func (c *Chain) Ask(ctx context.Context, sessionID, query string) (*Response, error) {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	r := &run{chain: c, sessionID: sessionID, started: time.Now()}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	r.to(QueryReceived)

	history, err := c.memory.ShortTerm(ctx, sessionID)
	if err != nil {
		return nil, r.fail(fmt.Errorf("loading history: %w", err))
	}
	standalone := c.rewrite(ctx, sessionID, query, history)

	r.to(Retrieving)
	vector, err := c.embedder.Embed(ctx, standalone)
	if err != nil {
		return nil, r.fail(c.retrievalError(ctx, err))
	}
	results, err := c.kb.Search(ctx, vector, c.cfg.TopK, c.cfg.Threshold)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(ctx.Err())
		}
		return nil, r.fail(fmt.Errorf("%w: %w", ErrRetrievalFailed, err))
	}
	recalled := c.recall(ctx, sessionID, vector, history)

	c.logger.Info("Retrieved context",
		"session", sessionID,
		"chunks", len(results),
		"recalled", len(recalled),
		"top_score", topScore(results),
		"rewritten", standalone != query,
	)

	r.to(Assembling)
	prompt := assemble(promptInput{
		system:   c.cfg.SystemPrompt,
		chunks:   results,
		recalled: recalled,
		history:  history,
		query:    standalone,
	}, c.generator.InputBudget(), c.counter)

	if !prompt.Fits() {
		c.logger.Warn("Prompt exceeds input budget after trimming",
			"session", sessionID, "tokens", prompt.Tokens, "budget", prompt.Budget)
	}
	if prompt.DroppedChunks+prompt.DroppedTurns+prompt.DroppedRecalled > 0 {
		c.logger.Info("Trimmed prompt to budget",
			"session", sessionID,
			"dropped_chunks", prompt.DroppedChunks,
			"dropped_turns", prompt.DroppedTurns,
			"dropped_recalled", prompt.DroppedRecalled,
			"tokens", prompt.Tokens,
		)
	}

	resp := newResponse(ctx, c.cfg.StreamBuffer, &Result{
		SessionID:       sessionID,
		Query:           query,
		StandaloneQuery: standalone,
		Citations:       citations(prompt.Chunks),
		Grounded:        len(prompt.Chunks) > 0,
		Prompt:          prompt,
	})
	go c.generate(resp, r)
	return resp, nil
}

// Answer asks query and waits for the complete answer.
func (c *Chain) Answer(ctx context.Context, sessionID, query string) (*Result, error) {
	resp, err := c.Ask(ctx, sessionID, query)
	if err != nil {
		return nil, err
	}
	return resp.Wait()
}

// rewrite returns a standalone form of query, or query itself when there is
// no history, rewriting is disabled or the model fails.
func (c *Chain) rewrite(ctx context.Context, sessionID, query string, history []memory.Turn) string {
	if !c.cfg.RewriteQuery || len(history) == 0 {
		return query
	}

	ctx, cancel := c.withGenerationTimeout(ctx)
	defer cancel()

	var sb strings.Builder
	for _, t := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n\n", t.Query,
			llm.Truncate(t.Answer, rewriteAnswerTokens, c.counter))
	}
	fmt.Fprintf(&sb, "Follow-up question: %s", query)

	rewritten, err := c.generator.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Rewrite the follow-up question into a standalone question " +
				"that can be understood without the conversation. Resolve pronouns and references. " +
				"Reply with the question only."},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("Query rewrite failed, using raw query", "session", sessionID, "error", err)
		return query
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	c.logger.Debug("Rewrote query", "session", sessionID, "query", query, "standalone", rewritten)
	return rewritten
}

func (c *Chain) retrievalError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, embedding.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrRetrievalTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
}

// recall returns up to RecallK long-term turns relevant to the query that
// are not already in the window.
func (c *Chain) recall(ctx context.Context, sessionID string, vector []float32, history []memory.Turn) []memory.Turn {
	if c.cfg.RecallK <= 0 {
		return nil
	}

	turns, err := c.memory.Recall(ctx, sessionID, vector, c.cfg.RecallK+len(history))
	if err != nil {
		c.logger.Warn("Long-term recall failed", "session", sessionID, "error", err)
		return nil
	}

	inWindow := make(map[string]bool, len(history))
	for _, t := range history {
		inWindow[t.ID] = true
	}
	out := make([]memory.Turn, 0, c.cfg.RecallK)
	for _, t := range turns {
		if inWindow[t.ID] {
			continue
		}
		out = append(out, t)
		if len(out) == c.cfg.RecallK {
			break
		}
	}
	return out
}

func (c *Chain) withGenerationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.GenerationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.GenerationTimeout)
}

// generate streams the answer into resp and records the turn.
func (c *Chain) generate(resp *Response, r *run) {
	defer resp.finish()

	ctx, cancel := c.withGenerationTimeout(resp.ctx)
	defer cancel()

	res := resp.result
	r.to(Generating)

	var answer strings.Builder
	streaming := false
	emit := func(tok string) error {
		if !streaming {
			streaming = true
			r.to(Streaming)
		}
		answer.WriteString(tok)
		select {
		case resp.tokens <- tok:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var err error
	if !res.Grounded {
		err = emit(NoContextNotice + "\n\n")
	}
	if err == nil {
		_, err = c.generator.Stream(ctx, llm.Request{
			Messages:    res.Prompt.Messages,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		}, emit)
	}
	res.Answer = answer.String()

	switch {
	case err == nil:
	case resp.ctx.Err() != nil:
		// Cancelled by the caller: keep what was produced.
		res.Truncated = true
		c.logger.Info("Answer cancelled, recording partial turn",
			"session", res.SessionID, "answer_len", len(res.Answer))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		resp.err = r.fail(fmt.Errorf("%w after %s", ErrGenerationTimeout, c.cfg.GenerationTimeout))
		return
	default:
		resp.err = r.fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err))
		return
	}

	// The turn is recorded even if the caller has gone away.
	turn, appendErr := c.memory.Append(context.WithoutCancel(resp.ctx), memory.Turn{
		SessionID: res.SessionID,
		Query:     res.Query,
		Answer:    res.Answer,
		Citations: res.CitedChunkIDs(),
		Truncated: res.Truncated,
	})
	if appendErr != nil {
		resp.err = r.fail(fmt.Errorf("recording turn: %w", appendErr))
		return
	}
	res.Turn = &turn

	if res.Truncated {
		resp.err = fmt.Errorf("answer truncated: %w", resp.ctx.Err())
		r.to(Errored)
		return
	}

	r.to(Completed)
	c.logger.Info("Answered question",
		"session", res.SessionID,
		"seq", turn.Seq,
		"citations", len(res.Citations),
		"grounded", res.Grounded,
		"duration", time.Since(r.started),
	)
}

func topScore(results []knowledge.Result) float32 {
	if len(results) == 0 {
		return 0
	}
	return results[0].Score
}
