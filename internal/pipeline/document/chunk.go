package document

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkTokens  = 1000
	DefaultChunkOverlap = 200

	runesPerToken = 4
)

type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// EstimateTokens approximates model tokens as runes/4, rounding up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + runesPerToken - 1) / runesPerToken
}

// ChunkText splits text into windows of size tokens that overlap by overlap
// tokens. Window edges are moved back to the nearest space when one is close.
// The last window always ends at the end of the text.
func ChunkText(text string, size, overlap int) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkTokens
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	window := size * runesPerToken
	step := (size - overlap) * runesPerToken

	var out []Chunk
	for start := 0; start < len(runes); {
		end := start + window
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToSpace(runes, start+step, end)
		}
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, Chunk{Index: len(out), Text: s, TokenCount: EstimateTokens(s)})
		}
		if end == len(runes) {
			break
		}
		next := end - overlap*runesPerToken
		if next <= start {
			next = start + step
		}
		start = next
	}
	return out
}

func snapToSpace(runes []rune, min, end int) int {
	for i := end; i > min && i > 0; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\n' {
			return i
		}
	}
	return end
}
