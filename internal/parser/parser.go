// Package parser turns raw document bytes into normalized text sections.
//
// Parsers are resolved by file extension through a Registry. Formats that need
// external tooling (PDF, DOCX) are expected to be converted to text before
// ingestion and registered as their own Parser by the caller.
package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// Section is one ordered page or header-delimited part of a document.
type Section struct {
	Label string // Header path or page label, empty for untitled content
	Text  string
}

// Parser converts raw file content into ordered sections of plain text.
type Parser interface {
	Parse(content []byte) ([]Section, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(content []byte) ([]Section, error)

func (f ParserFunc) Parse(content []byte) ([]Section, error) { return f(content) }

// Registry maps lowercase file extensions (with the leading dot) to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// DefaultRegistry returns a registry with the plain text and markdown parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	text := PlainText{}
	md := NewMarkdown()
	r.Register(".txt", text)
	r.Register(".text", text)
	r.Register(".md", md)
	r.Register(".markdown", md)
	return r
}

// Register binds ext to p, replacing any previous binding.
func (r *Registry) Register(ext string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[normalizeExt(ext)] = p
}

// Lookup returns the parser registered for the extension of path.
func (r *Registry) Lookup(path string) (Parser, error) {
	ext := normalizeExt(filepath.Ext(path))

	r.mu.RLock()
	p, ok := r.parsers[ext]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return p, nil
}

// Supports reports whether a parser is registered for path.
func (r *Registry) Supports(path string) bool {
	_, err := r.Lookup(path)
	return err == nil
}

// Extensions lists registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse parses content using the parser registered for name's extension.
func (r *Registry) Parse(name string, content []byte) ([]Section, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	sections, err := p.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return sections, nil
}

// ParseFile reads and parses the file at path.
func (r *Registry) ParseFile(path string) ([]Section, error) {
	p, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sections, err := p.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return sections, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
