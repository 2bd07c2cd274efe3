package ingestion_engine

import (
	"strings"
	"unicode/utf8"
)

// chunkText splits text into overlapping chunks of roughly targetSize
// characters, preferring to cut on natural boundaries near the end of each
// window. Boundary search order inside one window:
//
//  1. a paragraph break (blank line) in the last 30% of the window,
//  2. else a sentence terminator followed by whitespace in the same range,
//  3. else a word boundary in the last 20% of the window,
//  4. else the raw target offset.
//
// Each chunk after the first starts overlap characters before the previous
// chunk's end. The cursor always moves forward, so even input with no
// boundaries at all terminates.
func chunkText(text string, targetSize, overlap int) []chunk {
	if targetSize <= 0 {
		targetSize = 2000
	}
	if overlap < 0 {
		overlap = 0
	}

	var out []chunk
	pos := 0
	for pos < len(text) {
		if len(text)-pos <= targetSize {
			emitChunk(&out, text[pos:], pos)
			break
		}

		end := findChunkEnd(text, pos, targetSize)
		emitChunk(&out, text[pos:end], pos)

		next := end - overlap
		if next <= pos {
			next = pos + 1
		}
		// The overlap backup may land inside a multi-byte character.
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		pos = next
	}
	return out
}

// findChunkEnd picks where the window [pos, pos+targetSize) should close.
func findChunkEnd(text string, pos, targetSize int) int {
	end := pos + targetSize

	// Paragraph break in the last 30% of the window.
	from := end - targetSize*3/10
	if i := strings.LastIndex(text[from:end], "\n\n"); i >= 0 {
		return from + i + 2
	}

	// Sentence terminator followed by whitespace, same range.
	for j := end - 2; j >= from; j-- {
		if isSentenceEnd(text[j]) && isSpaceByte(text[j+1]) {
			return j + 1
		}
	}

	// Word boundary in the last 20% of the window.
	from = end - targetSize/5
	for j := end - 1; j >= from; j-- {
		if isSpaceByte(text[j]) {
			return j + 1
		}
	}

	// Raw offset. Back off to a rune start so a multi-byte character is
	// never split.
	for end > pos+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

func emitChunk(out *[]chunk, slice string, offset int) {
	trimmed := strings.TrimSpace(slice)
	if trimmed == "" {
		return
	}
	*out = append(*out, chunk{
		Pos:      len(*out),
		Text:     trimmed,
		Offset:   offset,
		TokenCnt: approxTokens(trimmed),
	})
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
// Replace with a real tokenizer later to improve chunk boundaries.
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
