package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/bull/docchat/internal/memory/migrations"
	"github.com/bull/docchat/internal/sqlitedb"
)

// SQLiteLog is a durable Log backed by a SQLite database file.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

// OpenSQLiteLog opens (creating if needed) the conversation log at path.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sqlitedb.Open(path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) Close() error { return l.db.Close() }

func (l *SQLiteLog) Append(ctx context.Context, rec *Record) error {
	citations, err := json.Marshal(nonNil(rec.Turn.Citations))
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`,
		rec.Turn.SessionID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocating sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, seq, query, answer, citations, truncated, created_at, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Turn.ID, rec.Turn.SessionID, seq, rec.Turn.Query, rec.Turn.Answer,
		string(citations), rec.Turn.Truncated, rec.Turn.CreatedAt.UTC(), encodeVector(rec.Vector))
	if err != nil {
		return fmt.Errorf("saving turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	rec.Turn.Seq = seq
	return nil
}

func (l *SQLiteLog) Load(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, seq, query, answer, citations, truncated, created_at, vector
		FROM turns WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var recs []Record //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			rec       Record
			citations string
			blob      []byte
		)
		t := &rec.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Query, &t.Answer,
			&citations, &t.Truncated, &t.CreatedAt, &blob); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &t.Citations); err != nil {
			return nil, fmt.Errorf("unmarshaling citations: %w", err)
		}
		if len(t.Citations) == 0 {
			t.Citations = nil
		}
		rec.Vector, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("turn %s: %w", t.ID, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return recs, nil
}

func (l *SQLiteLog) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(created_at)
		FROM turns
		GROUP BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s    Session
			last string
		)
		if err := rows.Scan(&s.ID, &s.Turns, &last); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		s.LastActive = parseTime(last)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	sortSessions(sessions)
	return sessions, nil
}

func (l *SQLiteLog) Clear(ctx context.Context, sessionID string) (int, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted turns: %w", err)
	}
	return int(n), nil
}

// MAX() over a DATETIME column loses the declared type, so the driver hands
// back text.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes is not a float32 array", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
