package index

import (
	"errors"
	"fmt"
)

// Index kinds understood by the factory and the persistence envelope.
const (
	KindFlat = "flat"
	KindIVF  = "ivf"
)

// Common errors
var (
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
	ErrInvalidPosition   = errors.New("index: invalid position")
	ErrUnknownKind       = errors.New("index: unknown index kind")
)

// Result represents a nearest neighbor match. Score is the inner product
// between the query and the stored vector, higher is more similar.
type Result struct {
	Position int
	Score    float32
}

// Index provides append-only inner-product nearest neighbor search.
//
// Positions are append-order slots: the n-th inserted vector lives at
// position n-1, and positions are never reused or compacted. Callers that
// soft-delete entries must filter dead positions out of search results
// themselves.
type Index interface {
	// Insert appends a vector and returns its assigned position.
	Insert(vector []float32) (int, error)

	// Search returns up to k matches ordered by score descending.
	// An empty index yields an empty result, not an error.
	Search(query []float32, k int) ([]Result, error)

	// Reconstruct returns a copy of the vector stored at position.
	Reconstruct(position int) ([]float32, error)

	// Count returns the number of physically stored vectors,
	// including soft-deleted ones.
	Count() int

	// Dimension returns the configured vector dimension.
	Dimension() int

	// Trained reports whether the index is ready to answer approximate
	// queries. Exact indexes are always trained.
	Trained() bool

	// Reset discards all vectors and training state.
	Reset()

	// Kind identifies the concrete implementation.
	Kind() string

	// Serialize/deserialize the full index state.
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// NewOfKind returns an empty index of the named kind, suitable as a target
// for Unmarshal.
func NewOfKind(kind string) (Index, error) {
	switch kind {
	case KindFlat:
		return NewFlat(0), nil
	case KindIVF:
		return NewIVF(0, IVFConfig{}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
