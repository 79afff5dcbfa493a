package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hashing is a deterministic feature-hashing embedder: tokens are hashed
// into a fixed number of buckets and the result is L2-normalized. It needs
// no model and no training pass, which makes it useful for tests and for
// callers without an embedding service. Semantic quality is limited to
// lexical overlap.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing embedder with the given dimensionality.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 256
	}
	return &Hashing{dims: dims}
}

// EmbedText converts text to a normalized bag-of-hashed-tokens vector.
func (h *Hashing) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, word := range tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(word))
		sum := f.Sum32()
		// Low bit picks the sign so collisions partially cancel.
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%h.dims] += sign
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimension returns the configured bucket count.
func (h *Hashing) Dimension() int { return h.dims }

// Name returns the embedder name.
func (h *Hashing) Name() string { return "hashing" }

// tokenize splits text into lowercase words.
func tokenize(text string) []string {
	var words []string
	var word strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}
	return words
}
