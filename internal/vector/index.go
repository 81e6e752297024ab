// Package vector provides a flat vector index with inner-product similarity search.
package vector

// Hit is a single search result: the position of the vector in insertion order
// and its similarity score. Positions align one-to-one with the metadata sidecar.
type Hit struct {
	Position int
	Score    float64
}
