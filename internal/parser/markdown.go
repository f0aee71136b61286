package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	goldparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Markdown splits markdown documents at H1 and H2 boundaries. Each section is
// labelled with its header path, e.g. "# Doc Title > ## Section Name".
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a markdown parser configured with goldmark.
func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithParserOptions(
			goldparser.WithAutoHeadingID(),
		),
	)
	return &Markdown{md: md}
}

// heading is a TOC entry flattened in document order.
type heading struct {
	id   string
	path []string
}

func (m *Markdown) Parse(content []byte) ([]Section, error) {
	source := []byte(Normalize(string(content)))

	doc := m.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),   // Include H1
		toc.MaxDepth(2),   // Split at H1 and H2 only
		toc.Compact(true), // Remove empty items
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	var headings []heading
	flatten(tree.Items, nil, &headings)

	// Resolve each heading to the byte offset where its line starts.
	type boundary struct {
		offset int
		label  string
	}
	boundaries := make([]boundary, 0, len(headings))
	for _, h := range headings {
		node := findHeaderByID(doc, h.id)
		if node == nil || node.Lines().Len() == 0 {
			continue
		}
		boundaries = append(boundaries, boundary{
			offset: lineStart(source, node.Lines().At(0).Start),
			label:  formatHeaderPath(h.path),
		})
	}

	if len(boundaries) == 0 {
		body := strings.TrimSpace(string(source))
		if body == "" {
			return nil, nil
		}
		return []Section{{Text: body}}, nil
	}

	var sections []Section
	if preamble := strings.TrimSpace(string(source[:boundaries[0].offset])); preamble != "" {
		sections = append(sections, Section{Text: preamble})
	}
	for i, b := range boundaries {
		end := len(source)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].offset
		}
		body := strings.TrimSpace(string(source[b.offset:end]))
		if body == "" {
			continue
		}
		sections = append(sections, Section{Label: b.label, Text: body})
	}

	return sections, nil
}

func flatten(items toc.Items, ancestors []string, out *[]heading) {
	for _, item := range items {
		path := make([]string, len(ancestors), len(ancestors)+1)
		copy(path, ancestors)
		path = append(path, string(item.Title))

		*out = append(*out, heading{id: string(item.ID), path: path})
		if len(item.Items) > 0 {
			flatten(item.Items, path, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}

// findHeaderByID locates a heading node by its auto-generated ID.
func findHeaderByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// lineStart rewinds pos to the beginning of its line so heading markers are kept.
func lineStart(source []byte, pos int) int {
	if i := bytes.LastIndexByte(source[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
