package models

// RetrievedChunk is a chunk with its similarity score, as returned by retrieval.
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
