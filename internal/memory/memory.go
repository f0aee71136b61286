// Package memory keeps per-session conversation history: a bounded
// short-term window of recent turns over a durable, append-only long-term
// log that can be searched semantically.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/vectorindex"
)

// DefaultMaxHistory is the short-term window length used when none is set.
const DefaultMaxHistory = 10

// Config configures a Memory.
type Config struct {
	// MaxHistory bounds the short-term window.
	MaxHistory int

	// Embedder embeds turns for SearchLongTerm. Without one, turns are
	// still logged but long-term search returns nothing.
	Embedder embedding.Gateway

	// RecallThreshold is the minimum similarity for a recalled turn.
	RecallThreshold float32

	Logger *slog.Logger
}

// Memory is the conversation memory for all sessions. Sessions are
// independent partitions: operations on different sessions never contend
// beyond a brief lookup.
type Memory struct {
	log        Log
	embedder   embedding.Gateway
	maxHistory int
	threshold  float32
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*partition
}

// partition is the cached state of one session, loaded from the log on
// first use.
type partition struct {
	mu     sync.Mutex
	loaded bool
	turns  []Turn // full log, ordered by Seq
	window []Turn // last maxHistory turns
	index  *vectorindex.Flat
	byID   map[string]int // turn ID -> position in turns
}

// New creates a Memory over log.
func New(log Log, cfg Config) *Memory {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Memory{
		log:        log,
		embedder:   cfg.Embedder,
		maxHistory: cfg.MaxHistory,
		threshold:  cfg.RecallThreshold,
		logger:     cfg.Logger,
		sessions:   make(map[string]*partition),
	}
}

// MaxHistory returns the short-term window length.
func (m *Memory) MaxHistory() int { return m.maxHistory }

// partition returns the session's partition, loading it from the log if
// needed. The returned partition is locked.
func (m *Memory) partition(ctx context.Context, sessionID string) (*partition, error) {
	m.mu.Lock()
	p, ok := m.sessions[sessionID]
	if !ok {
		p = &partition{}
		m.sessions[sessionID] = p
	}
	m.mu.Unlock()

	p.mu.Lock()
	if p.loaded {
		return p, nil
	}
	if err := m.load(ctx, sessionID, p); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	return p, nil
}

func (m *Memory) load(ctx context.Context, sessionID string, p *partition) error {
	recs, err := m.log.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	p.turns = make([]Turn, 0, len(recs))
	p.byID = make(map[string]int, len(recs))
	p.index = nil
	if m.embedder != nil {
		p.index, err = vectorindex.NewFlat(m.embedder.Dimensions(), vectorindex.Cosine)
		if err != nil {
			return fmt.Errorf("creating recall index: %w", err)
		}
	}

	skipped := 0
	for _, rec := range recs {
		p.byID[rec.Turn.ID] = len(p.turns)
		p.turns = append(p.turns, rec.Turn)
		if p.index == nil || rec.Vector == nil {
			continue
		}
		if err := p.index.Insert(ctx, vectorindex.Entry{ID: rec.Turn.ID, Vector: rec.Vector}); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		m.logger.Warn("Skipped turns with incompatible recall vectors",
			"session", sessionID, "skipped", skipped)
	}

	p.window = tail(p.turns, m.maxHistory)
	p.loaded = true
	return nil
}

// Append records turn at the end of its session's log and slides the
// short-term window. It fills in ID and CreatedAt when unset and returns the
// stored turn with its Seq assigned.
func (m *Memory) Append(ctx context.Context, turn Turn) (Turn, error) {
	if turn.SessionID == "" {
		return Turn{}, fmt.Errorf("%w: missing session id", ErrInvalidTurn)
	}
	if strings.TrimSpace(turn.Query) == "" {
		return Turn{}, fmt.Errorf("%w: missing query", ErrInvalidTurn)
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	turn.Citations = append([]string(nil), turn.Citations...)

	vec := m.embedTurn(ctx, turn)

	p, err := m.partition(ctx, turn.SessionID)
	if err != nil {
		return Turn{}, err
	}
	defer p.mu.Unlock()

	rec := Record{Turn: turn, Vector: vec}
	if err := m.log.Append(ctx, &rec); err != nil {
		return Turn{}, fmt.Errorf("appending turn: %w", err)
	}
	turn = rec.Turn

	p.byID[turn.ID] = len(p.turns)
	p.turns = append(p.turns, turn)
	p.window = tail(p.turns, m.maxHistory)

	if p.index != nil && vec != nil {
		if err := p.index.Insert(ctx, vectorindex.Entry{ID: turn.ID, Vector: vec}); err != nil {
			m.logger.Warn("Failed to index turn for recall", "session", turn.SessionID, "turn", turn.ID, "error", err)
		}
	}

	m.logger.Debug("Recorded turn",
		"session", turn.SessionID,
		"seq", turn.Seq,
		"citations", len(turn.Citations),
		"truncated", turn.Truncated,
	)
	return turn, nil
}

// embedTurn returns the recall vector for turn, or nil when there is no
// embedder or embedding fails. A turn is never lost because recall is
// unavailable.
func (m *Memory) embedTurn(ctx context.Context, turn Turn) []float32 {
	if m.embedder == nil {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, turn.Text())
	if err != nil {
		m.logger.Warn("Failed to embed turn, recording without recall vector",
			"session", turn.SessionID, "error", err)
		return nil
	}
	return vec
}

// ShortTerm returns the session's recent turns, most recent last. An unknown
// session has an empty window.
func (m *Memory) ShortTerm(ctx context.Context, sessionID string) ([]Turn, error) {
	p, err := m.partition(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	return cloneTurns(p.window), nil
}

// LongTerm returns the session's full log, oldest first.
func (m *Memory) LongTerm(ctx context.Context, sessionID string) ([]Turn, error) {
	p, err := m.partition(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	return cloneTurns(p.turns), nil
}

// SearchLongTerm returns up to topK of the session's turns most similar to
// query, best first.
func (m *Memory) SearchLongTerm(ctx context.Context, sessionID, query string, topK int) ([]Turn, error) {
	if m.embedder == nil || topK <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return m.Recall(ctx, sessionID, vec, topK)
}

// Recall is SearchLongTerm for an already embedded query.
func (m *Memory) Recall(ctx context.Context, sessionID string, vector []float32, topK int) ([]Turn, error) {
	if m.embedder == nil || topK <= 0 {
		return nil, nil
	}

	p, err := m.partition(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	hits, err := p.index.Search(ctx, vector, topK, m.threshold)
	if err != nil {
		return nil, fmt.Errorf("searching turns: %w", err)
	}

	turns := make([]Turn, 0, len(hits))
	for _, h := range hits {
		if i, ok := p.byID[h.ID]; ok {
			turns = append(turns, cloneTurn(p.turns[i]))
		}
	}
	return turns, nil
}

// Sessions lists known sessions, most recently active first.
func (m *Memory) Sessions(ctx context.Context) ([]Session, error) {
	sessions, err := m.log.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Clear deletes a session's history, long-term log included. It is the only
// operation that shrinks a session's log, and it leaves other sessions
// untouched. It returns ErrSessionNotFound when the session has no turns.
func (m *Memory) Clear(ctx context.Context, sessionID string) (int, error) {
	p, err := m.partition(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	defer p.mu.Unlock()

	n, err := m.log.Clear(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clearing session %s: %w", sessionID, err)
	}

	// Reload on next use so the partition matches the log.
	p.loaded = false

	if n == 0 {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	m.logger.Info("Cleared session", "session", sessionID, "turns", n)
	return n, nil
}

// Close closes the underlying log.
func (m *Memory) Close() error { return m.log.Close() }

func tail(turns []Turn, n int) []Turn {
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func cloneTurn(t Turn) Turn {
	t.Citations = append([]string(nil), t.Citations...)
	return t
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = cloneTurn(t)
	}
	return out
}
