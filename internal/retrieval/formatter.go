package retrieval

import (
	"path/filepath"
	"strings"

	"github.com/hyperjump/manabu/internal/models"
)

// FormatContext renders ranked chunks into a single attributed text block,
// in the supplied order. Total size is capped at budget characters: chunks
// that would overflow are dropped whole from the low-ranked tail, never
// truncated mid-chunk.
func FormatContext(chunks []models.RetrievedChunk, budget int) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, rc := range chunks {
		block := "[source: " + filepath.Base(rc.Chunk.Source) + "]\n" + rc.Chunk.Text
		need := len(block)
		if b.Len() > 0 {
			need += 2 // separator
		}
		if budget > 0 && b.Len()+need > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
	}
	return b.String()
}
