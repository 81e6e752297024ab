package indexer

import "strings"

// Preprocess collapses whitespace runs to single spaces and trims the ends.
// Chunk offsets are computed over this normalized form, so the same content
// produces the same chunks regardless of the source's formatting.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
