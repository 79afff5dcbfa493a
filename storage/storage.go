// Package storage keeps raw vectors addressable by id, beside the search
// indexes. The indexes only answer position-based queries; this layer is
// what makes get-by-id and full rebuilds possible.
package storage

import "context"

// Vector is a single stored item.
type Vector struct {
	ID         int64
	Embedding  []float32
	Attributes map[string]any
}

// Storage persists vectors by external id.
type Storage interface {
	// Save inserts or replaces vectors.
	Save(ctx context.Context, vectors []Vector) error

	// Get returns the vector with the given id, or (nil, nil) if absent.
	Get(ctx context.Context, id int64) (*Vector, error)

	// Load returns all stored vectors.
	Load(ctx context.Context) ([]Vector, error)

	// Delete removes vectors by id.
	Delete(ctx context.Context, ids []int64) error

	// Clear removes all vectors.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}
