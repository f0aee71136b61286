package docstore

import "time"

// Document is an ingested source document. Documents are immutable once
// stored and deleted only by explicit removal.
type Document struct {
	ID         string    // UUID
	Source     string    // Display name: "Q1 report.pdf"
	Path       string    // Local path or repository path, if any
	URL        string    // Canonical URL for remote sources
	CommitSHA  string    // Git commit SHA for repository sources
	Sections   []Section // Ordered pages or header-delimited sections
	ChunkCount int
	IngestedAt time.Time
}

// Section is one ordered page or section of a document's normalized text.
type Section struct {
	Label string `json:"label,omitempty"` // Header path or page label
	Text  string `json:"text"`
}

// Chunk is a retrievable slice of a document. Start and End are offsets into
// the document's joined text in the unit the chunker measured (runes or tokens).
type Chunk struct {
	ID         string // UUID
	DocumentID string // Links to Document.ID
	Source     string // Same as parent document source (for attribution)
	Position   int    // Ordinal in document (0, 1, 2...)
	Start      int
	End        int
	Overlap    int    // Units shared with the previous chunk
	Section    string // Label of the section the chunk starts in
	Text       string
}

// SectionSeparator joins sections into a document's full text.
const SectionSeparator = "\n\n"

// Text returns the document's sections joined with SectionSeparator.
func (d *Document) Text() string {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Text) + len(SectionSeparator)
	}

	buf := make([]byte, 0, n)
	for i, s := range d.Sections {
		if i > 0 {
			buf = append(buf, SectionSeparator...)
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}
