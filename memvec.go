// Package memvec is an embedded vector store for agent memories. Vectors
// live in two independent tiers (short-term and long-term), each backed by
// its own inner-product index, with id/position bookkeeping, snapshot
// persistence, an optional embedding cache and time-decayed memory search
// layered on top.
//
// The store does no cross-component locking: callers in a concurrent host
// must serialize mutating operations (AddVector, RemoveVector, UpdateVector,
// Compact, Clear, Save) against one another. Concurrent searches are safe
// with each other, but a search racing a mutation may observe a transient
// inconsistency; reads are best-effort, not linearizable.
package memvec

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sort"
	"time"

	"memvec/cache"
	"memvec/embedder"
	"memvec/index"
	"memvec/metadata"
	"memvec/persistence"
	"memvec/storage"
)

// Version of the memvec library
const Version = "0.1.0"

// MemoryType selects which index tier holds a vector.
type MemoryType = metadata.MemoryType

const (
	ShortTerm = metadata.ShortTerm
	LongTerm  = metadata.LongTerm
)

const attrMemoryType = "memory_type"

// SearchResult is one ranked match from Search.
type SearchResult struct {
	ID         int64
	Score      float32
	MemoryType MemoryType
	CreatedAt  time.Time
	Attributes map[string]any
}

// MemoryHit is one ranked match from SearchMemories.
type MemoryHit struct {
	ID    int64
	Score float32
}

// Store composes the index engines, metadata manager, persister, raw-vector
// backend and embedding cache into the public contract.
type Store struct {
	cfg   Config
	embed embedder.Embedder
	cache *cache.EmbeddingCache
	store storage.Storage

	persister *persistence.Persister
	meta      *metadata.Manager
	indexes   map[MemoryType]index.Index

	insertions int // monotonic, drives the auto-snapshot interval
}

// Build creates the Store.
func (b *Builder) Build() (*Store, error) {
	cfg := b.cfg.withDefaults()
	if cfg.Dimension <= 0 {
		return nil, WrapError("Build", ErrNoDimension)
	}
	if cfg.PersistDir == "" {
		return nil, WrapError("Build", ErrNoPersistDir)
	}

	persister, err := persistence.New(cfg.PersistDir)
	if err != nil {
		return nil, WrapError("Build", err)
	}
	meta, err := metadata.New(cfg.PersistDir)
	if err != nil {
		return nil, WrapError("Build", err)
	}

	s := &Store{
		cfg:       cfg,
		embed:     b.embed,
		cache:     b.cache,
		store:     b.store,
		persister: persister,
		meta:      meta,
	}

	if s.store == nil {
		if cfg.SQLitePath != "" {
			sqlite, err := storage.NewSQLite(cfg.SQLitePath)
			if err != nil {
				return nil, WrapError("Build", err)
			}
			s.store = sqlite
		} else {
			s.store = storage.NewMemory()
		}
	}

	if s.cache == nil && cfg.CacheDir != "" {
		c, err := cache.New(cfg.CacheDir, cfg.CacheMaxEntries)
		if err != nil {
			return nil, WrapError("Build", err)
		}
		s.cache = c
	}

	s.indexes = map[MemoryType]index.Index{
		ShortTerm: s.newIndex(),
		LongTerm:  s.newIndex(),
	}
	return s, nil
}

func (s *Store) newIndex() index.Index {
	if s.cfg.IndexKind == index.KindIVF {
		return index.NewIVF(s.cfg.Dimension, index.IVFConfig{
			NList:          s.cfg.NList,
			NProbe:         s.cfg.NProbe,
			TrainThreshold: s.cfg.TrainThreshold,
		})
	}
	return index.NewFlat(s.cfg.Dimension)
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.cfg.Dimension }

// Cache returns the embedding cache, or nil if none is configured.
func (s *Store) Cache() *cache.EmbeddingCache { return s.cache }

// Persister returns the snapshot manager.
func (s *Store) Persister() *persistence.Persister { return s.persister }

// AddVector inserts a vector under an externally assigned id. The tier is
// taken from attributes["memory_type"], defaulting to short-term. Every
// SaveInterval insertions the store snapshots itself; a failed background
// snapshot is logged, never surfaced to the caller.
func (s *Store) AddVector(ctx context.Context, id int64, vector []float32, attributes map[string]any) error {
	if len(vector) != s.cfg.Dimension {
		return WrapError("AddVector", fmt.Errorf("%w: want %d, got %d",
			ErrDimensionMismatch, s.cfg.Dimension, len(vector)))
	}
	if s.meta.Has(id) {
		return WrapError("AddVector", fmt.Errorf("%w: %d", ErrDuplicateID, id))
	}

	memoryType, err := tierFromAttributes(attributes)
	if err != nil {
		return WrapError("AddVector", err)
	}

	attrs := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs[attrMemoryType] = string(memoryType)

	pos, err := s.indexes[memoryType].Insert(vector)
	if err != nil {
		return WrapError("AddVector", err)
	}
	if _, err := s.meta.Add(id, memoryType, pos, attrs); err != nil {
		return WrapError("AddVector", err)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if err := s.store.Save(ctx, []storage.Vector{{ID: id, Embedding: vec, Attributes: attrs}}); err != nil {
		return WrapError("AddVector", err)
	}

	s.insertions++
	if s.cfg.SaveInterval > 0 && s.insertions%s.cfg.SaveInterval == 0 {
		if err := s.Save(); err != nil {
			log.Printf("memvec: auto-save failed: %v", err)
		}
	}
	return nil
}

// Search returns up to k matches across both tiers, score descending.
// Positions whose metadata was removed are dead slots and are filtered out;
// the optional filter keeps only results whose attributes exactly match
// every filter key.
func (s *Store) Search(query []float32, k int, filter map[string]any) ([]SearchResult, error) {
	if len(query) != s.cfg.Dimension {
		return nil, WrapError("Search", fmt.Errorf("%w: want %d, got %d",
			ErrDimensionMismatch, s.cfg.Dimension, len(query)))
	}
	if k <= 0 {
		return nil, nil
	}

	var merged []SearchResult
	for _, memoryType := range []MemoryType{ShortTerm, LongTerm} {
		idx := s.indexes[memoryType]
		if idx.Count() == 0 {
			continue
		}
		hits, err := idx.Search(query, k)
		if err != nil {
			return nil, WrapError("Search", err)
		}
		for _, h := range hits {
			rec := s.meta.GetByPosition(memoryType, h.Position)
			if rec == nil {
				continue // dead slot left behind by a removal
			}
			if !matchesFilter(rec.Attributes, filter) {
				continue
			}
			merged = append(merged, SearchResult{
				ID:         rec.VectorID,
				Score:      h.Score,
				MemoryType: rec.MemoryType,
				CreatedAt:  rec.CreatedAt,
				Attributes: rec.Attributes,
			})
		}
	}

	sortByScore(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// GetVector returns the stored vector and attributes for id, updating its
// access stats. A missing id yields (nil, nil, nil); absence is a result,
// not an error.
func (s *Store) GetVector(ctx context.Context, id int64) ([]float32, map[string]any, error) {
	rec := s.meta.Get(id)
	if rec == nil {
		return nil, nil, nil
	}

	if v, err := s.store.Get(ctx, id); err != nil {
		return nil, nil, WrapError("GetVector", err)
	} else if v != nil {
		vec := make([]float32, len(v.Embedding))
		copy(vec, v.Embedding)
		return vec, rec.Attributes, nil
	}

	// Raw storage can be behind the index after a Load from snapshots only.
	vec, err := s.indexes[rec.MemoryType].Reconstruct(rec.IndexPosition)
	if err != nil {
		return nil, nil, WrapError("GetVector", err)
	}
	return vec, rec.Attributes, nil
}

// RemoveVector deletes id's metadata and raw vector. The index slot itself
// stays behind as dead weight until Compact or Clear.
func (s *Store) RemoveVector(ctx context.Context, id int64) error {
	if !s.meta.Remove(id) {
		return WrapError("RemoveVector", fmt.Errorf("%w: %d", ErrNotFound, id))
	}
	if err := s.store.Delete(ctx, []int64{id}); err != nil {
		return WrapError("RemoveVector", err)
	}
	return nil
}

// UpdateVector replaces id's vector and attributes. This is remove-then-add,
// not an in-place mutation: the id is assigned a fresh index position.
func (s *Store) UpdateVector(ctx context.Context, id int64, vector []float32, attributes map[string]any) error {
	if err := s.RemoveVector(ctx, id); err != nil {
		return WrapError("UpdateVector", err)
	}
	if err := s.AddVector(ctx, id, vector, attributes); err != nil {
		return WrapError("UpdateVector", err)
	}
	return nil
}

// Stats summarizes both tiers and the metadata manager.
type Stats struct {
	Metadata         metadata.Stats
	ShortTermVectors int // physical, including dead slots
	LongTermVectors  int
	ShortTermTrained bool
	LongTermTrained  bool
	IndexKind        string
	Dimension        int
}

// Stats reports store occupancy. Physical tier counts include dead slots;
// the metadata total counts live records only.
func (s *Store) Stats() Stats {
	return Stats{
		Metadata:         s.meta.Stats(),
		ShortTermVectors: s.indexes[ShortTerm].Count(),
		LongTermVectors:  s.indexes[LongTerm].Count(),
		ShortTermTrained: s.indexes[ShortTerm].Trained(),
		LongTermTrained:  s.indexes[LongTerm].Trained(),
		IndexKind:        s.cfg.IndexKind,
		Dimension:        s.cfg.Dimension,
	}
}

// Count returns the number of physically stored vectors across both tiers,
// including dead slots.
func (s *Store) Count() int {
	return s.indexes[ShortTerm].Count() + s.indexes[LongTerm].Count()
}

// Save snapshots both tiers and the metadata to the persist directory.
// Unlike the background auto-save, failures here propagate to the caller.
func (s *Store) Save() error {
	for memoryType, idx := range s.indexes {
		if idx.Count() == 0 {
			continue
		}
		meta := map[string]any{
			"memory_type":   string(memoryType),
			"total_vectors": idx.Count(),
		}
		if err := s.persister.SaveIndex(string(memoryType), idx, meta); err != nil {
			return WrapError("Save", err)
		}
	}
	if err := s.meta.Save(); err != nil {
		return WrapError("Save", err)
	}
	return nil
}

// Load replaces in-memory state with the last snapshot. Missing snapshot
// files are the normal cold start and leave the affected tier empty; a tier
// with metadata but no snapshot is rebuilt from the raw-vector backend when
// possible.
func (s *Store) Load(ctx context.Context) error {
	if err := s.meta.Load(); err != nil {
		return WrapError("Load", err)
	}

	for _, memoryType := range []MemoryType{ShortTerm, LongTerm} {
		idx, err := s.persister.LoadIndex(string(memoryType))
		if err != nil {
			return WrapError("Load", err)
		}
		if idx != nil {
			s.indexes[memoryType] = idx
			continue
		}
		if err := s.rebuildTier(ctx, memoryType); err != nil {
			return WrapError("Load", err)
		}
	}

	s.insertions = s.Count()
	return nil
}

// rebuildTier reconstructs a tier's index from the raw-vector backend,
// in metadata position order. Missing vectors abort the rebuild and leave
// the tier empty rather than silently misaligning positions.
func (s *Store) rebuildTier(ctx context.Context, memoryType MemoryType) error {
	ids := s.liveIDsByPosition(memoryType)
	if len(ids) == 0 {
		return nil
	}

	fresh := s.newIndex()
	positions := make(map[int64]int, len(ids))
	for _, id := range ids {
		v, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if v == nil {
			return nil // backend has no copy; tier stays empty until re-added
		}
		pos, err := fresh.Insert(v.Embedding)
		if err != nil {
			return err
		}
		positions[id] = pos
	}
	if err := s.meta.RebindPositions(memoryType, positions); err != nil {
		return err
	}
	s.indexes[memoryType] = fresh
	return nil
}

// Compact rebuilds both tiers from live vectors, dropping the dead slots
// left behind by removals. This is the cheaper alternative to Clear when
// the data should survive.
func (s *Store) Compact(ctx context.Context) error {
	for _, memoryType := range []MemoryType{ShortTerm, LongTerm} {
		ids := s.liveIDsByPosition(memoryType)
		fresh := s.newIndex()
		positions := make(map[int64]int, len(ids))

		for _, id := range ids {
			rec := s.meta.Peek(id)
			vec, err := s.vectorFor(ctx, id, rec)
			if err != nil {
				return WrapError("Compact", err)
			}
			pos, err := fresh.Insert(vec)
			if err != nil {
				return WrapError("Compact", err)
			}
			positions[id] = pos
		}
		if err := s.meta.RebindPositions(memoryType, positions); err != nil {
			return WrapError("Compact", err)
		}
		s.indexes[memoryType] = fresh
	}
	s.insertions = s.Count()
	return nil
}

// vectorFor fetches id's vector from the raw backend, falling back to index
// reconstruction.
func (s *Store) vectorFor(ctx context.Context, id int64, rec *metadata.Record) ([]float32, error) {
	if v, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	} else if v != nil {
		return v.Embedding, nil
	}
	return s.indexes[rec.MemoryType].Reconstruct(rec.IndexPosition)
}

// liveIDsByPosition returns a tier's live ids ordered by their current
// index position, so rebuilds preserve insertion order.
func (s *Store) liveIDsByPosition(memoryType MemoryType) []int64 {
	ids := s.meta.IDsForType(memoryType)
	pos := make(map[int64]int, len(ids))
	for _, id := range ids {
		pos[id] = s.meta.Peek(id).IndexPosition
	}
	sort.Slice(ids, func(i, j int) bool {
		return pos[ids[i]] < pos[ids[j]]
	})
	return ids
}

// Clear discards and recreates both index engines, wipes the metadata and
// the raw-vector backend. It is the blunt way to reclaim dead slots; see
// Compact for the one that keeps data.
func (s *Store) Clear(ctx context.Context) error {
	s.indexes = map[MemoryType]index.Index{
		ShortTerm: s.newIndex(),
		LongTerm:  s.newIndex(),
	}
	s.meta.Clear()
	if err := s.store.Clear(ctx); err != nil {
		return WrapError("Clear", err)
	}
	s.insertions = 0
	return nil
}

// Close releases the raw-vector backend.
func (s *Store) Close() error {
	return s.store.Close()
}

// AddMemory embeds content and stores it as a memory of the given tier.
// The content itself is kept in the attributes under "content".
func (s *Store) AddMemory(ctx context.Context, id int64, content string, memoryType MemoryType, attributes map[string]any) error {
	if !memoryType.Valid() {
		return WrapError("AddMemory", fmt.Errorf("%w: %q", ErrUnknownMemoryType, memoryType))
	}
	vec, err := s.embedText(ctx, content)
	if err != nil {
		return WrapError("AddMemory", err)
	}

	attrs := make(map[string]any, len(attributes)+2)
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs[attrMemoryType] = string(memoryType)
	attrs["content"] = content
	return s.AddVector(ctx, id, vec, attrs)
}

// SearchMemories embeds the query and returns ranked memory ids. An empty
// memoryType searches both tiers. With timeDecay, scores are re-weighted by
// record age: decayed = score * max(0.1, 1 - ageDays*0.01) — a linear decay
// with a 0.1 floor — and re-sorted.
func (s *Store) SearchMemories(ctx context.Context, query string, memoryType MemoryType, k int, timeDecay bool) ([]MemoryHit, error) {
	vec, err := s.embedText(ctx, query)
	if err != nil {
		return nil, WrapError("SearchMemories", err)
	}

	var filter map[string]any
	if memoryType != "" {
		if !memoryType.Valid() {
			return nil, WrapError("SearchMemories", fmt.Errorf("%w: %q", ErrUnknownMemoryType, memoryType))
		}
		filter = map[string]any{attrMemoryType: string(memoryType)}
	}

	results, err := s.Search(vec, k, filter)
	if err != nil {
		return nil, WrapError("SearchMemories", err)
	}
	if timeDecay {
		results = applyTimeDecay(results, time.Now().UTC())
	}

	hits := make([]MemoryHit, len(results))
	for i, r := range results {
		hits[i] = MemoryHit{ID: r.ID, Score: r.Score}
	}
	return hits, nil
}

// embedText resolves text through the cache when one is configured, calling
// the embedder only on a miss. A cache write failure degrades to uncached
// operation rather than failing the embed.
func (s *Store) embedText(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if vec := s.cache.Get(text); vec != nil {
			return vec, nil
		}
	}
	if s.embed == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := s.embed.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(text, vec); err != nil {
			log.Printf("memvec: embedding cache write failed: %v", err)
		}
	}
	return vec, nil
}

// applyTimeDecay re-weights scores by whole-day record age with a 0.1
// floor, then re-sorts.
func applyTimeDecay(results []SearchResult, now time.Time) []SearchResult {
	for i := range results {
		ageDays := int(now.Sub(results[i].CreatedAt).Hours() / 24)
		if ageDays < 0 {
			ageDays = 0
		}
		factor := 1.0 - float64(ageDays)*0.01
		if factor < 0.1 {
			factor = 0.1
		}
		results[i].Score *= float32(factor)
	}
	sortByScore(results)
	return results
}

func sortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Equal scores rank the more recent record first.
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}

// tierFromAttributes reads the target tier out of the caller's attributes,
// defaulting to short-term.
func tierFromAttributes(attributes map[string]any) (MemoryType, error) {
	raw, ok := attributes[attrMemoryType]
	if !ok {
		return ShortTerm, nil
	}
	switch v := raw.(type) {
	case string:
		mt := MemoryType(v)
		if !mt.Valid() {
			return "", fmt.Errorf("%w: %q", ErrUnknownMemoryType, v)
		}
		return mt, nil
	case MemoryType:
		if !v.Valid() {
			return "", fmt.Errorf("%w: %q", ErrUnknownMemoryType, v)
		}
		return v, nil
	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownMemoryType, raw)
	}
}

// matchesFilter reports whether attributes exactly match every filter key.
func matchesFilter(attributes, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := attributes[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
