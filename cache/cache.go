// Package cache memoizes text → embedding computations so identical content
// is never embedded twice. Entries live in two tiers: a fast in-process map
// and a durable per-entry file, with least-recently-used batch eviction once
// the entry count exceeds the configured ceiling.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	metadataFile = "cache_metadata.json"
	entryExt     = ".vec"
	previewLen   = 100
)

// entryMeta tracks one cached embedding for eviction and diagnostics.
type entryMeta struct {
	LastAccess  float64 `json:"last_access"` // unix seconds
	AccessCount int     `json:"access_count"`
	TextPreview string  `json:"text_preview,omitempty"`
	Seq         int64   `json:"seq,omitempty"` // tie-breaker for equal timestamps
}

// Stats summarizes cache occupancy and usage.
type Stats struct {
	MemoryCacheCount int     `json:"memory_cache_count"`
	DiskCacheCount   int     `json:"disk_cache_count"`
	TotalAccessCount int     `json:"total_access_count"`
	CacheSizeBytes   int64   `json:"cache_size_bytes"`
	MaxSize          int     `json:"max_size"`
	UsageRatio       float64 `json:"usage_ratio"`
}

// EmbeddingCache is a two-tier text → vector cache keyed by a content hash
// of the normalized text, so identical text maps to the same entry
// regardless of call site.
type EmbeddingCache struct {
	dir     string
	maxSize int

	memory map[string][]float32
	meta   map[string]*entryMeta
	seq    int64

	mu sync.Mutex
}

// New creates a cache persisting under dir with at most maxSize entries.
func New(dir string, maxSize int) (*EmbeddingCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &EmbeddingCache{
		dir:     dir,
		maxSize: maxSize,
		memory:  make(map[string][]float32),
		meta:    make(map[string]*entryMeta),
	}
	if err := c.loadMetadata(); err != nil {
		return nil, err
	}
	for _, m := range c.meta {
		if m.Seq >= c.seq {
			c.seq = m.Seq + 1
		}
	}
	return c, nil
}

// Key returns the cache key for text: a SHA-256 hex digest of the
// whitespace-normalized content.
func Key(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) entryPath(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// Get returns the cached vector for text, or nil on a total miss. A disk
// hit is promoted into the memory tier. Every hit bumps the entry's access
// stats.
func (c *EmbeddingCache) Get(text string) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(text)
	if vec, ok := c.memory[key]; ok {
		c.touch(key)
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return nil
	}
	vec := decodeVector(data)
	c.memory[key] = vec
	c.touch(key)
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}

// touch updates access stats for key. Caller holds the lock.
func (c *EmbeddingCache) touch(key string) {
	m, ok := c.meta[key]
	if !ok {
		m = &entryMeta{}
		c.meta[key] = m
	}
	m.LastAccess = unixNow()
	m.AccessCount++
	m.Seq = c.seq
	c.seq++
}

// Set stores the vector under text's key in both tiers, then evicts the
// oldest entries if the cache has grown past its ceiling.
func (c *EmbeddingCache) Set(text string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(text)
	stored := make([]float32, len(vector))
	copy(stored, vector)
	c.memory[key] = stored

	if err := os.WriteFile(c.entryPath(key), encodeVector(vector), 0o644); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}

	preview := text
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	c.meta[key] = &entryMeta{
		LastAccess:  unixNow(),
		AccessCount: 1,
		TextPreview: preview,
		Seq:         c.seq,
	}
	c.seq++

	c.evictIfNeeded()
	return c.saveMetadata()
}

// evictIfNeeded removes the least-recently-accessed entries once the count
// exceeds the ceiling. The batch overshoots the minimum by ceiling/10 so a
// busy cache does not evict on almost every subsequent insert. Caller holds
// the lock.
func (c *EmbeddingCache) evictIfNeeded() {
	if len(c.meta) <= c.maxSize {
		return
	}

	type kv struct {
		key  string
		meta *entryMeta
	}
	entries := make([]kv, 0, len(c.meta))
	for k, m := range c.meta {
		entries = append(entries, kv{k, m})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].meta.LastAccess != entries[j].meta.LastAccess {
			return entries[i].meta.LastAccess < entries[j].meta.LastAccess
		}
		return entries[i].meta.Seq < entries[j].meta.Seq
	})

	toRemove := len(c.meta) - c.maxSize + c.maxSize/10
	if toRemove > len(entries) {
		toRemove = len(entries)
	}
	for _, e := range entries[:toRemove] {
		os.Remove(c.entryPath(e.key))
		delete(c.memory, e.key)
		delete(c.meta, e.key)
	}
}

// Clear drops both tiers and the metadata file contents.
func (c *EmbeddingCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory = make(map[string][]float32)
	c.meta = make(map[string]*entryMeta)

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("cache: list dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), entryExt) {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
				return fmt.Errorf("cache: remove entry: %w", err)
			}
		}
	}
	return c.saveMetadata()
}

// Stats reports occupancy for both tiers.
func (c *EmbeddingCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		MemoryCacheCount: len(c.memory),
		MaxSize:          c.maxSize,
	}
	for _, m := range c.meta {
		s.TotalAccessCount += m.AccessCount
	}

	entries, err := os.ReadDir(c.dir)
	if err == nil {
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), entryExt) {
				continue
			}
			s.DiskCacheCount++
			if info, err := e.Info(); err == nil {
				s.CacheSizeBytes += info.Size()
			}
		}
	}
	if c.maxSize > 0 {
		s.UsageRatio = float64(s.DiskCacheCount) / float64(c.maxSize)
	}
	return s
}

// WarmUp pulls the given texts through the cache, promoting any disk-tier
// entries into memory, and returns how many were found.
func (c *EmbeddingCache) WarmUp(texts []string) int {
	loaded := 0
	for _, text := range texts {
		if c.Get(text) != nil {
			loaded++
		}
	}
	return loaded
}

func (c *EmbeddingCache) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(c.dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &c.meta); err != nil {
		return fmt.Errorf("cache: decode metadata: %w", err)
	}
	return nil
}

// saveMetadata writes the eviction metadata. Caller holds the lock.
func (c *EmbeddingCache) saveMetadata() error {
	data, err := json.MarshalIndent(c.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("cache: write metadata: %w", err)
	}
	return nil
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// encodeVector converts []float32 to little-endian bytes.
func encodeVector(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector converts little-endian bytes back to []float32.
func decodeVector(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}
