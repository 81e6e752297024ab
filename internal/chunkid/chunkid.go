// Package chunkid provides deterministic chunk IDs from a source path and offset.
package chunkid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
)

const prefix = "chunk:"

// ChunkID returns a stable ID for the chunk of the given source starting at
// the given offset. The same path and offset always yield the same ID, so
// re-ingesting unchanged content produces identical IDs.
func ChunkID(sourcePath string, offset int) string {
	normalized := filepath.Clean(sourcePath) + ":" + strconv.Itoa(offset)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}
