// Package tokens counts and encodes tokens for chunking and prompt budgeting.
package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding shared by the OpenAI chat and embedding models.
const DefaultEncoding = "cl100k_base"

// CharsPerToken is the rough estimate used when no tokenizer is available.
const CharsPerToken = 4

// Counter reports how many tokens a text occupies.
type Counter interface {
	Count(text string) int
}

// Codec converts between text and token ids.
type Codec interface {
	Counter
	Encode(text string) []int
	Decode(ids []int) string
}

// Tiktoken is a Codec backed by tiktoken BPE tables.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. The first call may download the BPE file.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

func (t *Tiktoken) Count(text string) int {
	return len(t.Encode(text))
}

// Estimate approximates token counts as one token per CharsPerToken runes.
type Estimate struct{}

func (Estimate) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}
