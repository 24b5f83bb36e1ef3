package rag

import (
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// ChunkText splits text into overlapping windows of at most size runes.
// A window that does not reach the end of the text is shortened to the last
// '.' or, failing that, the last space, provided the break falls past the
// middle of the window. Empty chunks are dropped.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		if c := strings.TrimSpace(text); c != "" {
			return []string{c}
		}
		return nil
	}

	var chunks []string
	half := size / 2
	for start := 0; start < len(runes); {
		end := start + size
		if end < len(runes) {
			if dot := lastIndex(runes, '.', start, end); dot > start+half {
				end = dot + 1
			} else if space := lastIndex(runes, ' ', start, end); space > start+half {
				end = space
			}
		} else {
			end = len(runes)
		}

		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastIndex returns the last position of r in runes[from:to], or -1.
func lastIndex(runes []rune, r rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
