package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func numberedText(sentences int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&sb, "Sentence %d describes item %d in some detail. ", i, i*7+3)
		if i%9 == 8 {
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func TestSplitShortTextReturnedVerbatim(t *testing.T) {
	text := "  a short text with padding  "
	chunks, err := Split(text, 1000, 200)
	require.NoError(t, err)
	assert.Equal(t, []string{text}, chunks)
}

func TestSplitEmptyAndBlank(t *testing.T) {
	chunks, err := Split("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = Split("   \n  ", 100, 10)
	assert.ErrorIs(t, err, domain.ErrEmptyResult)
}

func TestSplitInvalidConfig(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{{100, 100}, {100, 150}, {0, 0}, {10, -1}} {
		_, err := Split("text", tc.size, tc.overlap)
		assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig, "size=%d overlap=%d", tc.size, tc.overlap)
	}
	_, err := New(200, 200)
	assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig)
}

func TestSplitBoundsAndTermination(t *testing.T) {
	text := numberedText(200)
	for _, cfg := range []struct{ size, overlap int }{{1000, 200}, {300, 50}, {120, 119}, {80, 0}} {
		chunks, err := Split(text, cfg.size, cfg.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(c))
			assert.LessOrEqual(t, utf8.RuneCountInString(c), cfg.size)
		}
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	text := numberedText(60)
	chunks, err := Split(text, 500, 100)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c, "."), "chunk should end at a sentence: %q", c[len(c)-20:])
	}
}

func TestSplitNoBoundaryUsesFullWindow(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50)
	chunks, err := Split(text, 100, 20)
	require.NoError(t, err)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, text[80:180], chunks[1])
}

func TestSplitCountsRunes(t *testing.T) {
	text := strings.Repeat("ж", 150)
	chunks, err := Split(text, 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 60, utf8.RuneCountInString(chunks[1]))
}

func TestSplitThreePages(t *testing.T) {
	var sb strings.Builder
	for page := 1; page <= 3; page++ {
		fmt.Fprintf(&sb, "[Page %d]\n", page)
		body := numberedText(20)
		sb.WriteString(body[:780])
		sb.WriteString(".\n\n")
	}
	text := strings.TrimSpace(sb.String())
	require.InDelta(t, 2400, utf8.RuneCountInString(text), 60)

	chunks, err := Split(text, 1000, 200)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(chunks), 3)
	assert.LessOrEqual(t, len(chunks), 4)
}

func TestReconstruct(t *testing.T) {
	text := numberedText(120)
	for _, cfg := range []struct{ size, overlap int }{{1000, 200}, {400, 80}, {250, 0}} {
		chunks, err := Split(text, cfg.size, cfg.overlap)
		require.NoError(t, err)
		got := Reconstruct(chunks, cfg.overlap)
		assert.Equal(t, strings.Fields(text), strings.Fields(got), "size=%d overlap=%d", cfg.size, cfg.overlap)
	}
	assert.Equal(t, "", Reconstruct(nil, 10))
}

func TestChunkDocument(t *testing.T) {
	c, err := New(100, 10)
	require.NoError(t, err)
	chunks, err := c.ChunkDocument("doc", "notes.txt", numberedText(10))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, fmt.Sprintf("doc:%d", i), ch.ChunkID)
		assert.Equal(t, "notes.txt", ch.Source)
	}
}

func TestRecursiveSplitter(t *testing.T) {
	s, err := NewRecursiveSplitter(2000, 200)
	require.NoError(t, err)

	short := "one paragraph only."
	assert.Equal(t, []string{short}, s.Split(short))

	var paras []string
	for i := 0; i < 30; i++ {
		paras = append(paras, numberedText(5))
	}
	long := strings.Join(paras, "\n\n")
	pieces := s.Split(long)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 2000)
		assert.NotEmpty(t, p)
	}

	small, err := NewRecursiveSplitter(50, 5)
	require.NoError(t, err)
	for _, p := range small.Split(strings.Repeat("x", 170)) {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 50)
	}
}
