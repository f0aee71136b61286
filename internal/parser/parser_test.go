package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	r := DefaultRegistry()

	p, err := r.Lookup("notes/Q1 report.TXT")
	require.NoError(t, err)
	assert.IsType(t, PlainText{}, p)

	p, err = r.Lookup("README.md")
	require.NoError(t, err)
	assert.IsType(t, &Markdown{}, p)

	_, err = r.Lookup("slides.pptx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.Equal(t, []string{".markdown", ".md", ".text", ".txt"}, r.Extensions())
}

func TestRegistry_RegisterCustom(t *testing.T) {
	r := NewRegistry()
	r.Register("csv", ParserFunc(func(content []byte) ([]Section, error) {
		return []Section{{Label: "table", Text: string(content)}}, nil
	}))

	assert.True(t, r.Supports("data.CSV"))

	sections, err := r.Parse("data.csv", []byte("a,b\n1,2"))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "table", sections[0].Label)
}

func TestRegistry_ParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("Revenue grew.\r\n"), 0o644))

	sections, err := DefaultRegistry().ParseFile(path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Revenue grew.", sections[0].Text)

	_, err = DefaultRegistry().ParseFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestPlainText_Pages(t *testing.T) {
	sections, err := PlainText{}.Parse([]byte("first page\fsecond page\f\f"))
	require.NoError(t, err)

	require.Len(t, sections, 2)
	assert.Equal(t, Section{Label: "page 1", Text: "first page"}, sections[0])
	assert.Equal(t, Section{Label: "page 2", Text: "second page"}, sections[1])
}

func TestPlainText_Empty(t *testing.T) {
	sections, err := PlainText{}.Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, sections)
}
