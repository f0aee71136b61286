package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bull/docchat/internal/parser"
)

// RawDocument is unparsed file content fetched from a Source.
type RawDocument struct {
	Path      string // Path within the source, used to pick a parser
	Name      string // Display name recorded as the document source
	URL       string
	CommitSHA string
	Content   []byte
}

// Source enumerates documents for bulk ingestion.
type Source interface {
	// Revision identifies the current state of the source, e.g. a commit SHA.
	// Sources without versions return "".
	Revision(ctx context.Context) (string, error)
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, path string) (*RawDocument, error)
}

// DirSource lists files under a local directory that a parser is registered for.
type DirSource struct {
	Root    string
	Parsers *parser.Registry
}

func (d *DirSource) Revision(ctx context.Context) (string, error) { return "", nil }

func (d *DirSource) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if path != d.Root && len(entry.Name()) > 1 && entry.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Parsers.Supports(path) {
			rel, err := filepath.Rel(d.Root, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", d.Root, err)
	}

	sort.Strings(paths)
	return paths, nil
}

func (d *DirSource) Fetch(ctx context.Context, path string) (*RawDocument, error) {
	full := filepath.Join(d.Root, path)
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", full, err)
	}
	return &RawDocument{
		Path:    path,
		Name:    filepath.ToSlash(path),
		Content: content,
	}, nil
}
