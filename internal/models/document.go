// Package models defines core data structures for documents, chunks, and retrieval results.
package models

// Document is a source file with its extracted text. Identity is the absolute path;
// re-ingesting the same path re-extracts and replaces its chunks.
type Document struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a contiguous slice of a document's text, the unit of embedding and retrieval.
// ID is derived from the source path and offset, so re-ingestion of unchanged content
// yields the same ID. Offset is the rune offset of the chunk into the normalized text.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Offset    int       `json:"offset"`
	Embedding []float32 `json:"-"`
}

// Reference is a chunk citation returned to chat callers.
type Reference struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}
