// Package indexer provides document chunking and index building.
package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/manabu/internal/chunkid"
	"github.com/hyperjump/manabu/internal/models"
)

// Chunker splits text into overlapping word-based chunks. Each chunk records
// the rune offset of its first word into the normalized text, so the same
// content always produces the same chunk IDs.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

type word struct {
	text   string
	offset int // rune offset into the normalized text
}

// Chunk splits normalized text into Chunks with overlapping windows.
// Empty or whitespace-only text yields nil.
func (c *Chunker) Chunk(source, text string) []models.Chunk {
	words := splitWords(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	chunks := make([]models.Chunk, 0)
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		parts := make([]string, 0, end-i)
		for _, w := range words[i:end] {
			parts = append(parts, w.text)
		}
		offset := words[i].offset
		chunks = append(chunks, models.Chunk{
			ID:     chunkid.ChunkID(source, offset),
			Source: source,
			Text:   strings.Join(parts, " "),
			Offset: offset,
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// splitWords splits text into words with their rune offsets.
func splitWords(text string) []word {
	words := make([]word, 0)
	start := -1
	offset := 0
	var b strings.Builder
	for _, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{text: b.String(), offset: start})
				b.Reset()
				start = -1
			}
		} else {
			if start < 0 {
				start = offset
			}
			b.WriteRune(r)
		}
		offset++
	}
	if start >= 0 {
		words = append(words, word{text: b.String(), offset: start})
	}
	return words
}
