package parser

import (
	"fmt"
	"strings"
)

// PlainText parses UTF-8 text. Form feeds split the text into pages, which is
// how pdftotext and similar converters mark page boundaries.
type PlainText struct{}

func (PlainText) Parse(content []byte) ([]Section, error) {
	text := Normalize(string(content))

	pages := strings.Split(text, "\f")
	sections := make([]Section, 0, len(pages))
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		var label string
		if len(pages) > 1 {
			label = fmt.Sprintf("page %d", i+1)
		}
		sections = append(sections, Section{Label: label, Text: page})
	}
	return sections, nil
}

// Normalize strips a byte order mark and converts line endings to "\n".
func Normalize(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
