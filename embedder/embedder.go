// Package embedder defines the text → vector collaborator contract the
// store consumes. The store never computes embeddings itself; it only
// requires that an implementation be deterministic for identical input
// (the embedding cache depends on that) and emit a fixed dimension.
package embedder

import "context"

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	// EmbedText converts one text to a vector of Dimension() entries.
	// Identical input must produce identical output.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimensionality.
	Dimension() int

	// Name identifies the embedder.
	Name() string
}
