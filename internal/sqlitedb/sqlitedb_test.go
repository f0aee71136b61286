package sqlitedb

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMigrations = fstest.MapFS{
	"001_initial.up.sql": {Data: []byte(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL);`)},
	"002_tags.up.sql":    {Data: []byte(`ALTER TABLE notes ADD COLUMN tag TEXT NOT NULL DEFAULT '';`)},
	"README.md":          {Data: []byte("ignored")},
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := Open(path, testMigrations)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO notes (body, tag) VALUES ('hello', 'x')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, testMigrations)
	require.NoError(t, err)
	defer db.Close()

	var version, count int
	require.NoError(t, db.QueryRow(`SELECT MAX(version), COUNT(*) FROM schema_migrations`).Scan(&version, &count))
	assert.Equal(t, 2, version)
	assert.Equal(t, 2, count)

	var body string
	require.NoError(t, db.QueryRow(`SELECT body FROM notes`).Scan(&body))
	assert.Equal(t, "hello", body)
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(Memory, testMigrations)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO notes (body) VALUES ('in memory')`)
	require.NoError(t, err)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", Placeholders(0))
	assert.Equal(t, "?", Placeholders(1))
	assert.Equal(t, "?, ?, ?", Placeholders(3))
}
