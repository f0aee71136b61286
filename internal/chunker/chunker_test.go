package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reassemble joins consecutive segments, dropping each shared overlap once.
func reassemble(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		runes := []rune(seg.Text)
		sb.WriteString(string(runes[seg.Overlap:]))
	}
	return sb.String()
}

func TestSplit_QuarterlyReportScenario(t *testing.T) {
	text := strings.Repeat("abcdefghij", 25) // 250 characters

	segments, err := Split(text, 100, 20)
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, 0, segments[0].Start)
	assert.Equal(t, 100, segments[0].End)
	assert.Equal(t, 80, segments[1].Start)
	assert.Equal(t, 180, segments[1].End)
	assert.Equal(t, 160, segments[2].Start)
	assert.Equal(t, 250, segments[2].End)

	assert.Equal(t, 0, segments[0].Overlap)
	assert.Equal(t, 20, segments[1].Overlap)
	assert.Equal(t, 20, segments[2].Overlap)
}

func TestSplit_ReassemblesOriginal(t *testing.T) {
	inputs := []string{
		"short",
		strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40),
		"Ünïcödé text — with multi-byte runes: 日本語のテキスト。" + strings.Repeat("é", 97),
		strings.Repeat("x", 100),
		strings.Repeat("y", 101),
	}

	for _, size := range []int{7, 32, 100} {
		for _, overlap := range []int{1, 3, 6} {
			for _, input := range inputs {
				segments, err := Split(input, size, overlap)
				require.NoError(t, err)
				assert.Equal(t, input, reassemble(segments), "size=%d overlap=%d", size, overlap)
			}
		}
	}
}

func TestSplit_NeighboursShareOverlap(t *testing.T) {
	text := strings.Repeat("0123456789abcdefghijklmnopqrstuvwxyz", 13)
	const overlap = 11

	segments, err := Split(text, 50, overlap)
	require.NoError(t, err)
	require.Greater(t, len(segments), 2)

	for i := 0; i+1 < len(segments); i++ {
		cur := []rune(segments[i].Text)
		next := []rune(segments[i+1].Text)
		assert.Equal(t, string(cur[len(cur)-overlap:]), string(next[:overlap]), "pair %d", i)
	}
}

func TestSplit_LengthNeverExceedsSize(t *testing.T) {
	segments, err := Split(strings.Repeat("z", 1234), 100, 30)
	require.NoError(t, err)

	for _, seg := range segments {
		assert.LessOrEqual(t, len([]rune(seg.Text)), 100)
		assert.Equal(t, seg.End-seg.Start, len([]rune(seg.Text)))
	}
}

func TestSplit_EmptyText(t *testing.T) {
	segments, err := Split("", 100, 20)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestSplit_InvalidConfiguration(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"zero overlap", 100, 0},
		{"negative overlap", 100, -5},
		{"zero size", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split("some text", tc.size, tc.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)

			_, err = New(tc.size, tc.overlap)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

// fakeCodec treats every rune as one token.
type fakeCodec struct{}

func (fakeCodec) Encode(text string) []int {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids
}

func (fakeCodec) Decode(ids []int) string {
	runes := make([]rune, len(ids))
	for i, id := range ids {
		runes[i] = rune(id)
	}
	return string(runes)
}

func (c fakeCodec) Count(text string) int { return len(c.Encode(text)) }

func TestChunker_TokenUnit(t *testing.T) {
	c, err := New(10, 2, WithTokens(fakeCodec{}))
	require.NoError(t, err)
	assert.Equal(t, UnitTokens, c.Unit())

	text := strings.Repeat("ab", 12) // 24 tokens
	segments := c.Chunk(text)
	require.Len(t, segments, 3)
	assert.Equal(t, 16, segments[2].Start)
	assert.Equal(t, 24, segments[2].End)
	assert.Equal(t, text, reassemble(segments))
}

func TestChunker_TokenUnitRequiresCodec(t *testing.T) {
	_, err := New(10, 2, WithTokens(nil))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

// mergingCodec emits one token per rune, except that a blank line is merged
// with the rune after it, the way BPE vocabularies merge across separators.
type mergingCodec struct {
	vocab []string
}

func (m *mergingCodec) Encode(text string) []int {
	runes := []rune(text)
	var ids []int
	for i := 0; i < len(runes); {
		n := 1
		if runes[i] == '\n' && i+2 < len(runes) && runes[i+1] == '\n' {
			n = 3
		}
		m.vocab = append(m.vocab, string(runes[i:i+n]))
		ids = append(ids, len(m.vocab)-1)
		i += n
	}
	return ids
}

func (m *mergingCodec) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(m.vocab[id])
	}
	return sb.String()
}

func (m *mergingCodec) Count(text string) int { return len(m.Encode(text)) }

func TestChunker_LocateTokens(t *testing.T) {
	codec := &mergingCodec{}
	c, err := New(2, 1, WithTokens(codec))
	require.NoError(t, err)

	// Tokens: "s", "1", "\n\ns", "2". Counting the prefix "s1\n\n" alone
	// gives 4, but the second section begins inside token 2.
	text := "s1\n\ns2"
	assert.Equal(t, 4, codec.Count("s1\n\n"))
	assert.Equal(t, []int{0, 2}, c.Locate(text, []int{0, 4}))
	assert.Equal(t, []int{4}, c.Locate(text, []int{len(text)}))
}

func TestChunker_LocateChars(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)

	text := "héllo\n\nwörld"
	assert.Equal(t, []int{0, 7}, c.Locate(text, []int{0, strings.Index(text, "w")}))
}
