// Package chunker splits normalized document text into overlapping fixed-size segments.
package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/bull/docchat/internal/tokens"
)

// Unit selects what chunk sizes are measured in.
type Unit string

const (
	UnitChars  Unit = "chars"
	UnitTokens Unit = "tokens"
)

// Segment is one window of a document's text.
// Start and End are offsets in Unit (runes or tokens), End exclusive.
type Segment struct {
	Index   int    // Position in document (0, 1, 2...)
	Start   int    // Inclusive start offset
	End     int    // Exclusive end offset
	Overlap int    // Units shared with the previous segment
	Text    string // Segment text
}

// Chunker splits text into segments of a fixed size that overlap their neighbours.
type Chunker struct {
	size    int
	overlap int
	unit    Unit
	codec   tokens.Codec
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTokens measures chunk size and overlap in tokens of the given codec.
func WithTokens(codec tokens.Codec) Option {
	return func(c *Chunker) {
		c.unit = UnitTokens
		c.codec = codec
	}
}

// New creates a Chunker. It fails with ErrInvalidConfiguration unless 0 < overlap < size.
func New(size, overlap int, opts ...Option) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	c := &Chunker{size: size, overlap: overlap, unit: UnitChars}
	for _, opt := range opts {
		opt(c)
	}
	if c.unit == UnitTokens && c.codec == nil {
		return nil, fmt.Errorf("%w: token unit requires a codec", ErrInvalidConfiguration)
	}
	return c, nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Unit returns what sizes are measured in.
func (c *Chunker) Unit() Unit { return c.unit }

// Locate maps ascending byte offsets in text to offsets in the chunker's unit,
// as positions in the same encoding Chunk uses. In token mode an offset that
// falls inside a token maps to that token, since BPE merges across boundaries.
func (c *Chunker) Locate(text string, byteOffsets []int) []int {
	out := make([]int, len(byteOffsets))
	if c.unit != UnitTokens {
		for i, b := range byteOffsets {
			out[i] = utf8.RuneCountInString(text[:b])
		}
		return out
	}

	ids := c.codec.Encode(text)
	tok, end := 0, 0
	for i, b := range byteOffsets {
		for tok < len(ids) {
			next := end + len(c.codec.Decode(ids[tok:tok+1]))
			if next > b {
				break
			}
			end = next
			tok++
		}
		out[i] = tok
	}
	return out
}

// Chunk splits text according to the chunker configuration.
func (c *Chunker) Chunk(text string) []Segment {
	if c.unit == UnitTokens {
		ids := c.codec.Encode(text)
		return window(len(ids), c.size, c.overlap, func(start, end int) string {
			return c.codec.Decode(ids[start:end])
		})
	}
	runes := []rune(text)
	return window(len(runes), c.size, c.overlap, func(start, end int) string {
		return string(runes[start:end])
	})
}

// Split cuts text into rune windows of size characters, each starting
// size-overlap characters after the previous one. The final segment may be shorter.
func Split(text string, size, overlap int) ([]Segment, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	return window(len(runes), size, overlap, func(start, end int) string {
		return string(runes[start:end])
	}), nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfiguration, size)
	}
	if overlap <= 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must satisfy 0 < overlap < chunk size %d",
			ErrInvalidConfiguration, overlap, size)
	}
	return nil
}

func window(n, size, overlap int, slice func(start, end int) string) []Segment {
	if n == 0 {
		return nil
	}

	step := size - overlap
	segments := make([]Segment, 0, n/step+1)

	prevEnd := 0
	for start := 0; ; start += step {
		end := min(start+size, n)
		seg := Segment{
			Index: len(segments),
			Start: start,
			End:   end,
			Text:  slice(start, end),
		}
		if seg.Index > 0 {
			seg.Overlap = prevEnd - start
		}
		segments = append(segments, seg)
		prevEnd = end

		if end == n {
			break
		}
	}

	return segments
}
