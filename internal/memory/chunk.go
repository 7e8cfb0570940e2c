// Package memory implements chunking and substring-scored retrieval over
// ingested documents.
package memory

import (
	"strings"
	"unicode/utf8"
)

// ChunkSize is the number of characters per chunk.
const ChunkSize = 260

// Piece is a chunk before it is assigned ids and timestamps.
type Piece struct {
	Index      int
	Text       string
	TokenCount int
}

// Chunk splits body into ChunkSize-character pieces. The last piece may be
// shorter; an empty body yields no pieces.
func Chunk(body string) []Piece {
	if body == "" {
		return nil
	}
	pieces := make([]Piece, 0, utf8.RuneCountInString(body)/ChunkSize+1)
	rest := body
	for rest != "" {
		cut := byteOffset(rest, ChunkSize)
		text := rest[:cut]
		rest = rest[cut:]
		pieces = append(pieces, Piece{
			Index:      len(pieces),
			Text:       text,
			TokenCount: CountTokens(text),
		})
	}
	return pieces
}

// CountTokens counts whitespace-delimited tokens.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// byteOffset returns the byte offset just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
