package ingestion_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShortInputSingleChunk(t *testing.T) {
	text := "  A short document that fits in one chunk.  "
	chunks := chunkText(text, 2000, 150)

	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(text), chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Pos)
	assert.Equal(t, 0, chunks[0].Offset)
}

func TestChunkTextEmptyInput(t *testing.T) {
	assert.Empty(t, chunkText("", 2000, 150))
	assert.Empty(t, chunkText("   \n\t  ", 2000, 150))
}

func TestChunkTextOverlapOffsets(t *testing.T) {
	// No natural boundaries anywhere, so every window closes at the raw
	// target offset: 5000 chars at size 2000 / overlap 150 gives cuts at
	// 2000 and 3850, with starts backed up by the overlap.
	text := strings.Repeat("a", 5000)
	chunks := chunkText(text, 2000, 150)

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 1850, chunks[1].Offset)
	assert.Equal(t, 3700, chunks[2].Offset)

	// Chunk 2 starts exactly overlap chars before chunk 1's end.
	chunk1End := chunks[0].Offset + len(chunks[0].Text)
	assert.Equal(t, chunk1End-150, chunks[1].Offset)

	for i, c := range chunks {
		assert.Equal(t, i, c.Pos)
	}
}

func TestChunkTextPrefersParagraphBreak(t *testing.T) {
	// A blank line sits inside the last 30% of the first window; the cut
	// must land there instead of at the raw offset.
	text := strings.Repeat("x", 850) + "\n\n" + strings.Repeat("y", 1000)
	chunks := chunkText(text, 1000, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 850), chunks[0].Text)
	assert.Equal(t, strings.Repeat("y", 1000), chunks[1].Text)
	assert.Equal(t, 852, chunks[1].Offset)
}

func TestChunkTextPrefersSentenceBoundary(t *testing.T) {
	// No paragraph break, but a sentence ends inside the last 30% of the
	// window.
	first := strings.Repeat("v", 898) + ". "
	text := first + strings.Repeat("w", 600)
	chunks := chunkText(text, 1000, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("v", 898)+".", chunks[0].Text)
	assert.Equal(t, 899, chunks[0].Offset+len(chunks[0].Text))
}

func TestChunkTextFallsBackToWordBoundary(t *testing.T) {
	// No paragraph or sentence break; a single space sits inside the last
	// 20% of the window.
	text := strings.Repeat("m", 950) + " " + strings.Repeat("n", 500)
	chunks := chunkText(text, 1000, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("m", 950), chunks[0].Text)
	assert.Equal(t, 951, chunks[1].Offset)
}

func TestChunkTextReconstructsInput(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	text := b.String()

	chunks := chunkText(text, 500, 0)
	require.Greater(t, len(chunks), 1)

	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Text)
		joined.WriteString(" ")
	}
	strip := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	assert.Equal(t, strip(text), strip(joined.String()))
}

func TestChunkTextAlwaysAdvances(t *testing.T) {
	// Overlap larger than the chunk size must not stall the walk.
	text := strings.Repeat("z", 64)
	chunks := chunkText(text, 8, 32)

	require.NotEmpty(t, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Offset, chunks[i-1].Offset)
	}
}

func TestChunkTextTokenEstimate(t *testing.T) {
	chunks := chunkText(strings.Repeat("q", 100), 2000, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, 25, chunks[0].TokenCnt)

	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abc"))
	assert.Equal(t, 2, approxTokens("abcde"))
}

func TestChunkTextDoesNotSplitRunes(t *testing.T) {
	text := strings.Repeat("é", 50)
	chunks := chunkText(text, 17, 0)

	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.Text, "é"))
		for _, r := range c.Text {
			assert.Equal(t, 'é', r)
		}
	}
}
