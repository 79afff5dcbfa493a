package index

import (
	"bytes"
	"encoding/gob"
	"sort"
	"sync"

	"memvec/internal/mathutil"
)

// Flat is an exact brute-force inner-product index. Every query scans every
// stored vector, so it is always ready and never loses recall.
type Flat struct {
	dim  int
	data []float32 // row-major, Count()*dim entries
	mu   sync.RWMutex
}

// NewFlat creates an exact index for vectors of the given dimension.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

// Insert appends a vector and returns its position.
func (f *Flat) Insert(vector []float32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dim == 0 || len(vector) != f.dim {
		return 0, ErrDimensionMismatch
	}
	pos := len(f.data) / f.dim
	f.data = append(f.data, vector...)
	return pos, nil
}

// Search returns up to k nearest neighbors by inner product, descending.
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(query) != f.dim {
		return nil, ErrDimensionMismatch
	}
	return bruteForce(f.data, f.dim, query, k), nil
}

// Reconstruct returns a copy of the vector at position.
func (f *Flat) Reconstruct(position int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.dim == 0 || position < 0 || position >= len(f.data)/f.dim {
		return nil, ErrInvalidPosition
	}
	out := make([]float32, f.dim)
	copy(out, f.data[position*f.dim:(position+1)*f.dim])
	return out, nil
}

// Count returns the number of stored vectors.
func (f *Flat) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Dimension returns the configured vector dimension.
func (f *Flat) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

// Trained always reports true; exact search needs no training pass.
func (f *Flat) Trained() bool { return true }

// Kind identifies the index implementation.
func (f *Flat) Kind() string { return KindFlat }

// Reset discards all stored vectors.
func (f *Flat) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = nil
}

// flatData is the serializable representation of a Flat index.
type flatData struct {
	Dim  int
	Data []float32
}

// Marshal serializes the index.
func (f *Flat) Marshal() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(flatData{Dim: f.dim, Data: f.data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes the index.
func (f *Flat) Unmarshal(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var d flatData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return err
	}
	f.dim = d.Dim
	f.data = d.Data
	return nil
}

// bruteForce scores every row against the query and returns the top k,
// score descending with position as tie-breaker.
func bruteForce(data []float32, dim int, query []float32, k int) []Result {
	if dim == 0 || len(data) == 0 || k <= 0 {
		return nil
	}
	n := len(data) / dim
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		results[i] = Result{
			Position: i,
			Score:    mathutil.DotProduct(query, data[i*dim:(i+1)*dim]),
		}
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
}
