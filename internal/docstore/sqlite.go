package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bull/docchat/internal/docstore/migrations"
	"github.com/bull/docchat/internal/sqlitedb"
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the document store at path.
// Use sqlitedb.Memory for a private in-memory store.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging document store: %w", err)
	}
	return nil
}

func (s *SQLite) PutDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	sectionsJSON, err := json.Marshal(doc.Sections)
	if err != nil {
		return fmt.Errorf("marshalling sections: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, doc.ID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, source, path, url, commit_sha, sections, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Source, doc.Path, doc.URL, doc.CommitSHA, string(sectionsJSON),
		len(chunks), doc.IngestedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, chunks ...Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	for _, docID := range distinctDocuments(chunks) {
		_, err := tx.ExecContext(ctx, `
			UPDATE documents SET chunk_count = (SELECT COUNT(*) FROM chunks WHERE document_id = ?)
			WHERE id = ?
		`, docID, docID)
		if err != nil {
			return fmt.Errorf("updating chunk count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, position, start_offset, end_offset, overlap, section, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Position,
			c.Start, c.End, c.Overlap, c.Section, c.Text); err != nil {
			return fmt.Errorf("saving chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func distinctDocuments(chunks []Chunk) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range chunks {
		if _, ok := seen[c.DocumentID]; !ok {
			seen[c.DocumentID] = struct{}{}
			ids = append(ids, c.DocumentID)
		}
	}
	return ids
}

const chunkColumns = `c.id, c.document_id, d.source, c.position, c.start_offset, c.end_offset, c.overlap, c.section, c.content`

func (s *SQLite) Get(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id = ?
	`, id)

	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *SQLite) GetMany(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (`+sqlitedb.Placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = *c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (s *SQLite) Chunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ?
		ORDER BY c.position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

func (s *SQLite) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, path, url, commit_sha, sections, chunk_count, ingested_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

func (s *SQLite) FindBySource(ctx context.Context, source string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, path, url, commit_sha, sections, chunk_count, ingested_at
		FROM documents WHERE source = ?
		ORDER BY ingested_at DESC, rowid DESC
		LIMIT 1
	`, source)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", source, ErrNotFound)
	}
	return doc, err
}

func (s *SQLite) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, path, url, commit_sha, '[]', chunk_count, ingested_at
		FROM documents
		ORDER BY ingested_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		doc.Sections = nil
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func (s *SQLite) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	var chunkIDs []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		chunkIDs = append(chunkIDs, cid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return chunkIDs, nil
}

func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*Chunk, error) {
	var c Chunk
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Source, &c.Position,
		&c.Start, &c.End, &c.Overlap, &c.Section, &c.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	return &c, nil
}

func scanDocument(row scanner) (*Document, error) {
	var doc Document
	var sectionsJSON string

	if err := row.Scan(&doc.ID, &doc.Source, &doc.Path, &doc.URL, &doc.CommitSHA,
		&sectionsJSON, &doc.ChunkCount, &doc.IngestedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	if sectionsJSON != "" {
		if err := json.Unmarshal([]byte(sectionsJSON), &doc.Sections); err != nil {
			return nil, fmt.Errorf("unmarshaling sections: %w", err)
		}
	}
	return &doc, nil
}
