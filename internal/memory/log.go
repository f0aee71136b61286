package memory

import (
	"context"
	"sort"
	"sync"
)

// Log is the append-only, session-keyed store behind Memory.
type Log interface {
	// Append stores rec and assigns rec.Turn.Seq as the next position in
	// its session.
	Append(ctx context.Context, rec *Record) error

	// Load returns every record of a session ordered by Seq.
	Load(ctx context.Context, sessionID string) ([]Record, error)

	// Sessions lists sessions ordered by most recent activity first.
	Sessions(ctx context.Context) ([]Session, error)

	// Clear deletes a session's records and returns how many were removed.
	Clear(ctx context.Context, sessionID string) (int, error)

	Close() error
}

// MemoryLog is a Log kept in process memory.
type MemoryLog struct {
	mu       sync.RWMutex
	sessions map[string][]Record
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{sessions: make(map[string][]Record)}
}

func (l *MemoryLog) Append(ctx context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.sessions[rec.Turn.SessionID]
	rec.Turn.Seq = int64(len(recs)) + 1
	l.sessions[rec.Turn.SessionID] = append(recs, cloneRecord(*rec))
	return nil
}

func (l *MemoryLog) Load(ctx context.Context, sessionID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.sessions[sessionID]
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (l *MemoryLog) Sessions(ctx context.Context) ([]Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Session, 0, len(l.sessions))
	for id, recs := range l.sessions {
		out = append(out, Session{
			ID:         id,
			Turns:      len(recs),
			LastActive: recs[len(recs)-1].Turn.CreatedAt,
		})
	}
	sortSessions(out)
	return out, nil
}

func (l *MemoryLog) Clear(ctx context.Context, sessionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.sessions[sessionID])
	delete(l.sessions, sessionID)
	return n, nil
}

func (l *MemoryLog) Close() error { return nil }

func cloneRecord(r Record) Record {
	r.Turn.Citations = append([]string(nil), r.Turn.Citations...)
	r.Vector = append([]float32(nil), r.Vector...)
	return r
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].LastActive.Equal(s[j].LastActive) {
			return s[i].LastActive.After(s[j].LastActive)
		}
		return s[i].ID < s[j].ID
	})
}
