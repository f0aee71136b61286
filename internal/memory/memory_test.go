package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/sqlitedb"
)

// logs returns a fresh instance of every Log implementation.
func logs(t *testing.T) map[string]Log {
	t.Helper()
	sqlite, err := OpenSQLiteLog(sqlitedb.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Log{
		"memory": NewMemoryLog(),
		"sqlite": sqlite,
	}
}

type failingEmbedder struct{ dims int }

func (f failingEmbedder) Dimensions() int { return f.dims }

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func (f failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func turn(session string, i int) Turn {
	return Turn{
		SessionID: session,
		Query:     fmt.Sprintf("question %d", i),
		Answer:    fmt.Sprintf("answer %d", i),
	}
}

func TestMemory_WindowIsBounded(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const maxHistory, extra = 3, 2
			m := New(log, Config{MaxHistory: maxHistory, Embedder: embedding.NewHash(64)})

			for i := 1; i <= maxHistory+extra; i++ {
				stored, err := m.Append(ctx, turn("s1", i))
				require.NoError(t, err)
				assert.Equal(t, int64(i), stored.Seq)
				assert.NotEmpty(t, stored.ID)
				assert.False(t, stored.CreatedAt.IsZero())

				window, err := m.ShortTerm(ctx, "s1")
				require.NoError(t, err)
				assert.LessOrEqual(t, len(window), maxHistory)
			}

			window, err := m.ShortTerm(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, window, maxHistory)
			assert.Equal(t, "question 3", window[0].Query)
			assert.Equal(t, "question 5", window[2].Query, "most recent turn is last")

			all, err := m.LongTerm(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, all, maxHistory+extra)
			for i, tr := range all {
				assert.Equal(t, int64(i+1), tr.Seq)
			}
		})
	}
}

func TestMemory_UnknownSessionIsEmpty(t *testing.T) {
	m := New(NewMemoryLog(), Config{})

	window, err := m.ShortTerm(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, window)

	all, err := m.LongTerm(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemory_AppendRejectsInvalidTurns(t *testing.T) {
	m := New(NewMemoryLog(), Config{})

	_, err := m.Append(context.Background(), Turn{Query: "hi"})
	assert.ErrorIs(t, err, ErrInvalidTurn)

	_, err = m.Append(context.Background(), Turn{SessionID: "s1", Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidTurn)
}

func TestMemory_ReturnedTurnsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := New(NewMemoryLog(), Config{})

	_, err := m.Append(ctx, Turn{SessionID: "s1", Query: "q", Answer: "a", Citations: []string{"c1"}})
	require.NoError(t, err)

	window, err := m.ShortTerm(ctx, "s1")
	require.NoError(t, err)
	window[0].Citations[0] = "mutated"

	again, err := m.ShortTerm(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, again[0].Citations)
}

func TestMemory_SearchLongTerm(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := New(log, Config{MaxHistory: 1, Embedder: embedding.NewHash(256)})

			for _, tr := range []Turn{
				{SessionID: "s1", Query: "What is the refund policy for annual plans?", Answer: "Annual plans are refundable within 30 days."},
				{SessionID: "s1", Query: "Where can staff park?", Answer: "Staff parking is in lot B."},
				{SessionID: "s1", Query: "Who approves travel?", Answer: "Managers approve travel requests."},
			} {
				_, err := m.Append(ctx, tr)
				require.NoError(t, err)
			}

			found, err := m.SearchLongTerm(ctx, "s1", "refund policy annual plans", 1)
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, int64(1), found[0].Seq, "recalls a turn outside the window")

			found, err = m.SearchLongTerm(ctx, "other", "refund policy", 3)
			require.NoError(t, err)
			assert.Empty(t, found, "sessions do not share history")
		})
	}
}

func TestMemory_SearchLongTermWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	m := New(NewMemoryLog(), Config{})
	_, err := m.Append(ctx, turn("s1", 1))
	require.NoError(t, err)

	found, err := m.SearchLongTerm(ctx, "s1", "question", 3)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemory_EmbeddingFailureStillRecordsTurn(t *testing.T) {
	ctx := context.Background()
	m := New(NewMemoryLog(), Config{Embedder: failingEmbedder{dims: 8}})

	stored, err := m.Append(ctx, turn("s1", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Seq)

	all, err := m.LongTerm(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = m.SearchLongTerm(ctx, "s1", "question", 3)
	assert.Error(t, err)
}

func TestMemory_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")
	embedder := embedding.NewHash(128)

	log, err := OpenSQLiteLog(path)
	require.NoError(t, err)
	m := New(log, Config{MaxHistory: 2, Embedder: embedder})
	for i := 1; i <= 4; i++ {
		_, err := m.Append(ctx, turn("s1", i))
		require.NoError(t, err)
	}
	_, err = m.Append(ctx, Turn{SessionID: "s1", Query: "cut off", Answer: "partial", Truncated: true, Citations: []string{"c9"}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	log, err = OpenSQLiteLog(path)
	require.NoError(t, err)
	m = New(log, Config{MaxHistory: 2, Embedder: embedder})
	defer m.Close()

	all, err := m.LongTerm(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.True(t, all[4].Truncated)
	assert.Equal(t, []string{"c9"}, all[4].Citations)
	assert.Nil(t, all[0].Citations)

	window, err := m.ShortTerm(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(4), window[0].Seq)

	found, err := m.SearchLongTerm(ctx, "s1", "question 1 answer 1", 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(1), found[0].Seq)

	stored, err := m.Append(ctx, turn("s1", 6))
	require.NoError(t, err)
	assert.Equal(t, int64(6), stored.Seq, "sequence continues after restart")
}

func TestMemory_SessionsAndClear(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := New(log, Config{})
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			for i, s := range []string{"a", "b", "a"} {
				tr := turn(s, i)
				tr.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				_, err := m.Append(ctx, tr)
				require.NoError(t, err)
			}
			late := turn("b", 9)
			late.CreatedAt = base.Add(time.Hour)
			_, err := m.Append(ctx, late)
			require.NoError(t, err)

			sessions, err := m.Sessions(ctx)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, "b", sessions[0].ID)
			assert.Equal(t, 2, sessions[0].Turns)
			assert.True(t, sessions[0].LastActive.Equal(late.CreatedAt))

			n, err := m.Clear(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			window, err := m.ShortTerm(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, window)

			cleared, err := m.LongTerm(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, cleared)

			kept, err := m.LongTerm(ctx, "b")
			require.NoError(t, err)
			assert.Len(t, kept, 2, "clearing one session keeps the others' logs")

			_, err = m.Clear(ctx, "a")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			stored, err := m.Append(ctx, turn("a", 1))
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.Seq)
		})
	}
}

func TestMemory_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	m := New(NewMemoryLog(), Config{MaxHistory: 5, Embedder: embedding.NewHash(32)})

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := m.Append(ctx, turn(session, i))
				assert.NoError(t, err)
				_, err = m.ShortTerm(ctx, session)
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("session-%d", s))
	}
	wg.Wait()

	for s := 0; s < 8; s++ {
		all, err := m.LongTerm(ctx, fmt.Sprintf("session-%d", s))
		require.NoError(t, err)
		assert.Len(t, all, 20)
		window, err := m.ShortTerm(ctx, fmt.Sprintf("session-%d", s))
		require.NoError(t, err)
		assert.Len(t, window, 5)
	}
}
